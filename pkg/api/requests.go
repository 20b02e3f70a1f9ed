package api

// GreetingRequest is the body of POST /greeting.
type GreetingRequest struct {
	SessionID string `json:"session_id"`
}

// ChatRequest is the body of POST /chat. Exactly one of text or a button
// press (action "button" plus value/label) carries the turn; image_base64
// optionally attaches a screenshot.
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id"`
	RequestID      string `json:"request_id"`
	Text           string `json:"text"`
	Action         string `json:"action"`
	Value          string `json:"value"`
	Label          string `json:"label"`
	ImageBase64    string `json:"image_base64"`
}
