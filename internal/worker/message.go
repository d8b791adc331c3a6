package worker

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Message is the JSON envelope published to every department queue, per
// §6's department-queue schema.
type Message struct {
	TaskID            uuid.UUID       `json:"task_id"`
	AnalysisRequestID uuid.UUID       `json:"analysis_request_id"`
	UserID            uuid.UUID       `json:"user_id"`
	ShopDomain        string          `json:"shop_domain"`
	TaskDetails       json.RawMessage `json:"task_details"`
}
