package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/glinharesb/sekeys/internal/audit"
)

type AuditServer struct {
	logger *audit.Logger
}

func NewAuditServer(logger *audit.Logger) *AuditServer {
	return &AuditServer{logger: logger}
}

// QueryAudit handles {slot?, operation?, since?, until?, limit?}. Entries are
// returned newest first.
func (s *AuditServer) QueryAudit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var f audit.Filter
	var err error
	if f.Slot, err = stringField(req, "slot"); err != nil {
		return nil, err
	}
	if f.Operation, err = stringField(req, "operation"); err != nil {
		return nil, err
	}
	if f.Since, err = timeField(req, "since"); err != nil {
		return nil, err
	}
	if f.Until, err = timeField(req, "until"); err != nil {
		return nil, err
	}
	if f.Limit, err = intField(req, "limit"); err != nil {
		return nil, err
	}

	entries := []any{}
	for _, e := range s.logger.Query(f) {
		entries = append(entries, auditEntryToStruct(e))
	}
	return newStruct(map[string]any{"entries": entries})
}

func (s *AuditServer) StreamAudit(_ *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	sub := s.logger.Subscribe()
	defer s.logger.Unsubscribe(sub)

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case entry, ok := <-sub.C:
			if !ok {
				return nil
			}
			out, err := newStruct(auditEntryToStruct(entry))
			if err != nil {
				return err
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		}
	}
}

func auditEntryToStruct(e audit.Entry) map[string]any {
	out := map[string]any{
		"id":        e.ID,
		"timestamp": timestamp(e.Timestamp),
		"operation": e.Operation,
		"status":    e.Status,
	}
	optional := map[string]string{
		"slot":         e.Slot,
		"kind":         e.Kind,
		"fault_code":   e.FaultCode,
		"peer_address": e.PeerAddress,
	}
	for k, v := range optional {
		if v != "" {
			out[k] = v
		}
	}
	if len(e.Metadata) > 0 {
		meta := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			meta[k] = v
		}
		out["metadata"] = meta
	}
	return out
}
