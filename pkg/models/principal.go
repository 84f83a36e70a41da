package models

// Principal is the verified identity behind a bearer token. Principals have
// per-request lifetime and are never persisted.
type Principal struct {
	Email       string `json:"email"`
	SubjectID   string `json:"subject_id"`
	DisplayName string `json:"display_name"`
	CustomerID  string `json:"customer_id"`
}
