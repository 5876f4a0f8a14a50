package dto

// ReadyItem is one artifact advertised to the puller.
type ReadyItem struct {
	TaskID string `json:"task_id"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
}

// ClaimRequest identifies the artifact a puller wants to reserve or confirm.
type ClaimRequest struct {
	TaskID string `json:"task_id" binding:"required"`
}

// ClaimResponse tells the puller where to fetch the reserved artifact.
type ClaimResponse struct {
	RelayEndpoint string `json:"relay_endpoint"`
	RelayPath     string `json:"relay_path"`
}
