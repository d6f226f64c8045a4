package model

// Envelope wraps every API response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// ListMeta carries pagination information for list payloads.
type ListMeta struct {
	Count int `json:"count"`
	Limit int `json:"limit,omitempty"`
}

// ListData is the data part of list responses.
type ListData struct {
	Resource interface{} `json:"resource"`
	Meta     ListMeta    `json:"meta"`
}
