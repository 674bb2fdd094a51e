package mockcam

import "time"

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgError    MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload any         `json:"payload"`
}

type SnapshotPayload struct {
	Running            bool      `json:"running"`
	BackgroundCaptured bool      `json:"backgroundCaptured"`
	Frames             uint64    `json:"frames"`
	FPS                float64   `json:"fps"`
	Clients            int       `json:"clients"`
	CPUPercent         float64   `json:"cpuPercent"`
	RSSBytes           uint64    `json:"rssBytes"`
	Timestamp          time.Time `json:"timestamp"`
}

// LifecycleReply is the body of every lifecycle response.
type LifecycleReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
