package server

import (
	"time"

	"github.com/orneryd/skulddb/pkg/graph"
)

// EntityRequest is the ingestion payload for one entity. Producers own
// id generation; the server does not mint ids.
type EntityRequest struct {
	ID         string         `json:"id" binding:"required"`
	Kind       string         `json:"kind" binding:"required"`
	Properties map[string]any `json:"properties"`
	Timestamp  time.Time      `json:"timestamp" binding:"required"`
	Duration   string         `json:"duration"`
	Confidence float64        `json:"confidence"`
	Source     string         `json:"source"`
	Metadata   map[string]any `json:"metadata"`
}

// Entity converts the request into a graph entity. Structural
// validation happens at the store.
func (r *EntityRequest) Entity() (*graph.Entity, error) {
	var duration time.Duration
	if r.Duration != "" {
		var err error
		if duration, err = time.ParseDuration(r.Duration); err != nil {
			return nil, err
		}
	}
	return &graph.Entity{
		ID:         graph.EntityID(r.ID),
		Kind:       graph.EntityKind(r.Kind),
		Properties: r.Properties,
		Timestamp:  r.Timestamp,
		Duration:   duration,
		Confidence: r.Confidence,
		Source:     r.Source,
		Metadata:   r.Metadata,
	}, nil
}

// RelationRequest is the ingestion payload for one relation.
type RelationRequest struct {
	ID           string         `json:"id" binding:"required"`
	SourceEntity string         `json:"source_entity" binding:"required"`
	TargetEntity string         `json:"target_entity" binding:"required"`
	Kind         string         `json:"kind" binding:"required"`
	StartTime    time.Time      `json:"start_time" binding:"required"`
	EndTime      *time.Time     `json:"end_time"`
	Strength     float64        `json:"strength"`
	Confidence   float64        `json:"confidence"`
	CausalLag    string         `json:"causal_lag"`
	Evidence     []string       `json:"evidence"`
	Metadata     map[string]any `json:"metadata"`
}

// Relation converts the request into a graph relation.
func (r *RelationRequest) Relation() (*graph.Relation, error) {
	var lag time.Duration
	if r.CausalLag != "" {
		var err error
		if lag, err = time.ParseDuration(r.CausalLag); err != nil {
			return nil, err
		}
	}
	return &graph.Relation{
		ID:           graph.RelationID(r.ID),
		SourceEntity: graph.EntityID(r.SourceEntity),
		TargetEntity: graph.EntityID(r.TargetEntity),
		Kind:         graph.RelationKind(r.Kind),
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		Strength:     r.Strength,
		Confidence:   r.Confidence,
		CausalLag:    lag,
		Evidence:     r.Evidence,
		Metadata:     r.Metadata,
	}, nil
}

// ErrorResponse is the JSON shape of every error the API returns.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// AcceptedResponse acknowledges a successful ingest.
type AcceptedResponse struct {
	ID string `json:"id"`
}
