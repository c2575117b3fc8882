package dto

// UnreadCountResponse reports the number of unread notifications.
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// BulkResult reports how many rows a bulk operation touched.
type BulkResult struct {
	Affected int64 `json:"affected"`
}
