package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/glinharesb/sekeys/internal/audit"
	"github.com/glinharesb/sekeys/internal/element"
	"github.com/glinharesb/sekeys/internal/interceptor"
	"github.com/glinharesb/sekeys/internal/policy"
)

// Key event types sent on WatchKeyEvents.
const (
	EventCreated     = "created"
	EventRegenerated = "regenerated"
	EventDeleted     = "deleted"
)

type KeyServer struct {
	keys  *Registry
	audit *audit.Logger

	mu          sync.RWMutex
	subscribers []chan *structpb.Struct
}

func NewKeyServer(keys *Registry, a *audit.Logger) *KeyServer {
	return &KeyServer{
		keys:  keys,
		audit: a,
	}
}

// GenerateKey handles {kind, slot, curve?, key_size?, usage?[], export?}.
// kind may be omitted; it then follows from the slot.
func (s *KeyServer) GenerateKey(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	slot, err := slotField(req)
	if err != nil {
		return nil, err
	}
	kind, err := kindField(req, slot)
	if err != nil {
		return nil, err
	}
	opts, err := generateOptions(req)
	if err != nil {
		return nil, err
	}

	info, regenerated, err := s.keys.Generate(ctx, kind, slot, opts)
	s.record(ctx, "GenerateKey", slot, kind, err, nil)
	if err != nil {
		return nil, toStatus(err)
	}

	meta := keyInfoToStruct(info, true)
	eventType := EventCreated
	if regenerated {
		eventType = EventRegenerated
	}
	s.broadcastEvent(eventType, keyInfoToStruct(info, false))
	return newStruct(meta)
}

// GetPublicKey handles {slot}.
func (s *KeyServer) GetPublicKey(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	slot, err := slotField(req)
	if err != nil {
		return nil, err
	}
	info, err := s.keys.Get(slot)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{
		"slot":       info.Slot.String(),
		"kind":       info.Kind.String(),
		"public_key": encodeBytes(info.PublicKey),
	})
}

func (s *KeyServer) ListKeys(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	filter, err := stringField(req, "kind")
	if err != nil {
		return nil, err
	}
	var kind policy.Kind
	if filter != "" {
		if kind, err = policy.ParseKind(filter); err != nil {
			return nil, toStatus(err)
		}
	}

	keys := []any{}
	for _, info := range s.keys.List() {
		if kind != 0 && info.Kind != kind {
			continue
		}
		keys = append(keys, keyInfoToStruct(info, false))
	}
	return newStruct(map[string]any{"keys": keys})
}

// DeleteKey handles {slot}. The key is erased from the element and the slot
// becomes free for a new generation.
func (s *KeyServer) DeleteKey(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	slot, err := slotField(req)
	if err != nil {
		return nil, err
	}
	kind, err := kindOf(slot)
	if err != nil {
		return nil, err
	}

	info, err := s.keys.Delete(ctx, slot)
	s.record(ctx, "DeleteKey", slot, kind, err, nil)
	if err != nil {
		return nil, toStatus(err)
	}

	s.broadcastEvent(EventDeleted, keyInfoToStruct(info, false))
	return newStruct(map[string]any{
		"slot":    slot.String(),
		"kind":    kind.String(),
		"deleted": true,
	})
}

func (s *KeyServer) WatchKeyEvents(_ *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ch := make(chan *structpb.Struct, 32)

	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		for i, sub := range s.subscribers {
			if sub == ch {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case event := <-ch:
			if err := stream.Send(event); err != nil {
				return err
			}
		}
	}
}

// watchers reports the number of open WatchKeyEvents streams.
func (s *KeyServer) watchers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

func (s *KeyServer) broadcastEvent(eventType string, key map[string]any) {
	event, err := structpb.NewStruct(map[string]any{
		"id":        uuid.NewString(),
		"type":      eventType,
		"key":       key,
		"timestamp": timestamp(time.Now()),
	})
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (s *KeyServer) record(ctx context.Context, op string, slot policy.Slot, kind policy.Kind, err error, meta map[string]string) {
	logAudit(ctx, s.audit, op, slot.String(), kind.String(), err, meta)
}

func logAudit(ctx context.Context, a *audit.Logger, op, slot, kind string, err error, meta map[string]string) {
	result, code := outcome(err)
	a.Log(audit.Entry{
		Operation:   op,
		Slot:        slot,
		Kind:        kind,
		Status:      result,
		FaultCode:   code,
		PeerAddress: interceptor.PeerAddress(ctx),
		Metadata:    meta,
	})
}

// helpers

// kindOf returns the only kind slot can hold.
func kindOf(slot policy.Slot) (policy.Kind, error) {
	for _, kind := range []policy.Kind{policy.KindECC, policy.KindRSA} {
		if policy.ValidateSlot(kind, slot) == nil {
			return kind, nil
		}
	}
	return 0, toStatus(policy.ValidateSlot(policy.KindECC, slot))
}

func kindField(req *structpb.Struct, slot policy.Slot) (policy.Kind, error) {
	name, err := stringField(req, "kind")
	if err != nil {
		return 0, err
	}
	if name == "" {
		return kindOf(slot)
	}
	kind, err := policy.ParseKind(name)
	if err != nil {
		return 0, toStatus(err)
	}
	return kind, nil
}

func generateOptions(req *structpb.Struct) (element.GenerateOptions, error) {
	var opts element.GenerateOptions
	var err error

	if opts.Curve, err = stringField(req, "curve"); err != nil {
		return opts, err
	}
	if opts.KeySize, err = intField(req, "key_size"); err != nil {
		return opts, err
	}
	if opts.Export, err = boolField(req, "export"); err != nil {
		return opts, err
	}
	names, err := stringsField(req, "usage")
	if err != nil {
		return opts, err
	}
	if opts.Usage, err = policy.ParseUsages(names); err != nil {
		return opts, status.Error(codes.InvalidArgument, err.Error())
	}
	return opts, nil
}

func keyInfoToStruct(info KeyInfo, withPrivate bool) map[string]any {
	meta := map[string]any{
		"kind":       info.Kind.String(),
		"slot":       info.Slot.String(),
		"usage":      stringList(policy.DecodeUsage(info.Usage)),
		"public_key": encodeBytes(info.PublicKey),
		"created_at": timestamp(info.CreatedAt),
	}
	switch info.Kind {
	case policy.KindECC:
		meta["curve"] = info.Curve
	case policy.KindRSA:
		meta["key_size"] = info.KeySize
	}
	if withPrivate && len(info.PrivateKey) > 0 {
		meta["private_key"] = encodeBytes(info.PrivateKey)
	}
	return meta
}
