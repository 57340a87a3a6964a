package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/vitals_relay/internal/telemetry"
)

type ingestInput struct {
	ContentType string `header:"Content-Type" doc:"application/json or application/cbor; sniffed when omitted"`
	RawBody     []byte
}

type ingestOutput struct {
	Body struct {
		Status string `json:"status" example:"success"`
	}
}

type latestOutput struct {
	Body telemetry.Snapshot
}

type historyOutput struct {
	Body telemetry.History
}

func registerIngestHandlers(api huma.API, svc Service, opts Options) {
	huma.Register(api, huma.Operation{
		OperationID:  "ingest-reading",
		Method:       http.MethodPost,
		Path:         "/data",
		Summary:      "Ingest a device reading",
		Description:  "Replaces the live snapshot with the posted reading and broadcasts it to every viewer. Fields not present in the body are reset.",
		Tags:         []string{"Ingestion"},
		MaxBodyBytes: opts.MaxBodyBytes,
	}, func(ctx context.Context, input *ingestInput) (*ingestOutput, error) {
		if _, err := svc.IngestPayload(ctx, "http", input.ContentType, input.RawBody); err != nil {
			return nil, mapErr(err)
		}
		out := &ingestOutput{}
		out.Body.Status = "success"
		return out, nil
	})
}

func registerQueryHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "get-latest", Method: http.MethodGet, Path: "/api/latest", Summary: "Get the live snapshot", Tags: []string{"Telemetry"}},
		func(ctx context.Context, input *struct{}) (*latestOutput, error) {
			out := &latestOutput{}
			out.Body = svc.Latest()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-history", Method: http.MethodGet, Path: "/api/history", Summary: "Get per-metric history", Tags: []string{"Telemetry"}},
		func(ctx context.Context, input *struct{}) (*historyOutput, error) {
			out := &historyOutput{}
			out.Body = svc.History()
			return out, nil
		})
}
