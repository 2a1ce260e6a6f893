package server

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/glinharesb/sekeys/internal/policy"
)

// Every request and response is a google.protobuf.Struct. These helpers read
// typed fields out of a request and report malformed ones as InvalidArgument.

func field(req *structpb.Struct, name string) (*structpb.Value, bool) {
	if req == nil {
		return nil, false
	}
	v, ok := req.GetFields()[name]
	if !ok {
		return nil, false
	}
	if _, null := v.GetKind().(*structpb.Value_NullValue); null {
		return nil, false
	}
	return v, true
}

func stringField(req *structpb.Struct, name string) (string, error) {
	v, ok := field(req, name)
	if !ok {
		return "", nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "%s must be a string", name)
	}
	return s.StringValue, nil
}

func intField(req *structpb.Struct, name string) (int, error) {
	v, ok := field(req, name)
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > math.MaxInt32 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
	return int(n.NumberValue), nil
}

func boolField(req *structpb.Struct, name string) (bool, error) {
	v, ok := field(req, name)
	if !ok {
		return false, nil
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, status.Errorf(codes.InvalidArgument, "%s must be a bool", name)
	}
	return b.BoolValue, nil
}

func stringsField(req *structpb.Struct, name string) ([]string, error) {
	v, ok := field(req, name)
	if !ok {
		return nil, nil
	}
	list, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "%s must be a list", name)
	}
	out := make([]string, 0, len(list.ListValue.GetValues()))
	for _, item := range list.ListValue.GetValues() {
		s, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "%s must contain strings", name)
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}

// bytesField decodes a standard base64 string field. present is false when
// the field is absent.
func bytesField(req *structpb.Struct, name string) (b []byte, present bool, err error) {
	v, ok := field(req, name)
	if !ok {
		return nil, false, nil
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return nil, true, status.Errorf(codes.InvalidArgument, "%s must be a base64 string", name)
	}
	b, err = base64.StdEncoding.DecodeString(s.StringValue)
	if err != nil {
		return nil, true, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	return b, true, nil
}

// slotField accepts "0xe0f1" style strings and plain numbers.
func slotField(req *structpb.Struct) (policy.Slot, error) {
	v, ok := field(req, "slot")
	if !ok {
		return 0, status.Error(codes.InvalidArgument, "slot is required")
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		s, err := policy.ParseSlot(k.StringValue)
		if err != nil {
			return 0, toStatus(err)
		}
		return s, nil
	case *structpb.Value_NumberValue:
		n := k.NumberValue
		if n < 0 || n > math.MaxUint16 || n != math.Trunc(n) {
			return 0, status.Errorf(codes.InvalidArgument, "slot %v out of range", n)
		}
		return policy.Slot(n), nil
	default:
		return 0, status.Error(codes.InvalidArgument, "slot must be a string or number")
	}
}

func timeField(req *structpb.Struct, name string) (time.Time, error) {
	s, err := stringField(req, name)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	return t, nil
}

// timestamp renders t the way the protobuf JSON mapping renders a
// google.protobuf.Timestamp.
func timestamp(t time.Time) string {
	return timestamppb.New(t).AsTime().Format(time.RFC3339Nano)
}

func encodeBytes(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// newStruct builds a response, failing with Internal on values structpb
// cannot represent.
func newStruct(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func stringList[T fmt.Stringer](items []T) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item.String()
	}
	return out
}
