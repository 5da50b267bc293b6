package client

type HealthResponse struct {
	Status string     `json:"status"`
	Agent  *AgentInfo `json:"agent,omitempty"`
}

type AgentInfo struct {
	Name string `json:"name"`
}
