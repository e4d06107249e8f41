package main

import "github.com/liamcoop/creditapproval/credit"

// API request and response models

// PredictRequest is the body of POST /api/v1/predict. Fields are pointers so
// a missing field can be told apart from zero; numeric strings are accepted.
type PredictRequest = credit.ApplicantInput

// PredictResponse is returned by POST /api/v1/predict
type PredictResponse struct {
	Approved            bool    `json:"approved" example:"true"`
	ApprovalProbability float64 `json:"approval_probability" example:"0.9312"`
	RiskLevel           string  `json:"risk_level" example:"low"`
} // @name PredictResponse

// HealthResponse is returned by GET /api/v1/health
type HealthResponse struct {
	Status      string `json:"status" example:"healthy"`
	Version     string `json:"version" example:"1.0.0"`
	ModelLoaded bool   `json:"model_loaded" example:"false"`
} // @name HealthResponse

// RootResponse identifies the service at GET /
type RootResponse struct {
	Title   string `json:"title" example:"Credit Approval ML API"`
	Version string `json:"version" example:"1.0.0"`
	Health  string `json:"health" example:"/api/v1/health"`
} // @name RootResponse

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error  string              `json:"error" example:"validation failed"`
	Fields []credit.FieldError `json:"fields,omitempty"`
} // @name ErrorResponse

func newPredictResponse(p *credit.Prediction) PredictResponse {
	return PredictResponse{
		Approved:            p.Approved,
		ApprovalProbability: p.ApprovalProbability,
		RiskLevel:           p.RiskLevel.String(),
	}
}
