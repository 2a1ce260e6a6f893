package server

import (
	"context"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/glinharesb/sekeys/internal/audit"
	"github.com/glinharesb/sekeys/internal/element"
	"github.com/glinharesb/sekeys/internal/policy"
)

type SigningServer struct {
	keys  *Registry
	audit *audit.Logger
}

func NewSigningServer(keys *Registry, a *audit.Logger) *SigningServer {
	return &SigningServer{
		keys:  keys,
		audit: a,
	}
}

// Sign handles {slot, data | text, hash_algorithm?}. data is base64; text is
// signed as its UTF-8 bytes. ECC keys always hash with their curve's digest.
func (s *SigningServer) Sign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	resp, err := s.sign(ctx, req)
	if err != nil {
		return nil, err
	}
	return newStruct(resp)
}

func (s *SigningServer) sign(ctx context.Context, req *structpb.Struct) (map[string]any, error) {
	slot, err := slotField(req)
	if err != nil {
		return nil, err
	}
	payload, isText, err := signPayload(req)
	if err != nil {
		return nil, err
	}
	hashAlgorithm, err := stringField(req, "hash_algorithm")
	if err != nil {
		return nil, err
	}

	var sig *element.Signature
	var kind policy.Kind
	err = s.keys.With(slot, func(key *element.Key) error {
		kind = key.Kind()
		switch kind {
		case policy.KindECC:
			if hashAlgorithm != "" && hashAlgorithm != key.Curve().Hash.Name {
				return status.Errorf(codes.InvalidArgument, "%s keys hash with %s", key.Curve().Name, key.Curve().Hash.Name)
			}
			sig, err = key.SignECDSA(ctx, payload)
		default:
			sig, err = key.SignPKCS1v15(ctx, payload, hashAlgorithm)
		}
		return err
	})

	var meta map[string]string
	if isText {
		meta = map[string]string{"advisory": element.AdvisoryTextPayload}
	}
	if sig != nil {
		meta = withMeta(meta, "algorithm", sig.Algorithm())
	}
	kindName := ""
	if kind != 0 {
		kindName = kind.String()
	}
	logAudit(ctx, s.audit, "Sign", slot.String(), kindName, err, meta)
	if err != nil {
		return nil, toStatus(err)
	}

	return map[string]any{
		"slot":           sig.Slot().String(),
		"algorithm":      sig.Algorithm(),
		"hash_algorithm": sig.HashAlgorithm(),
		"signature":      encodeBytes(sig.Bytes()),
	}, nil
}

// StreamSign signs each request on the stream in order. A failed request is
// answered with {error, code} and the stream continues.
func (s *SigningServer) StreamSign(stream grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error {
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		resp, err := s.sign(stream.Context(), req)
		if err != nil {
			st := status.Convert(err)
			resp = map[string]any{"error": st.Message(), "code": st.Code().String()}
		}
		out, err := newStruct(resp)
		if err != nil {
			return err
		}
		if err := stream.Send(out); err != nil {
			return err
		}
	}
}

// signPayload returns []byte for data and string for text so the text
// advisory fires in the signing pipeline.
func signPayload(req *structpb.Struct) (payload any, isText bool, err error) {
	data, hasData, err := bytesField(req, "data")
	if err != nil {
		return nil, false, err
	}
	_, hasText := field(req, "text")
	switch {
	case hasData && hasText:
		return nil, false, status.Error(codes.InvalidArgument, "data and text are mutually exclusive")
	case hasData:
		return data, false, nil
	case hasText:
		text, err := stringField(req, "text")
		if err != nil {
			return nil, false, err
		}
		return text, true, nil
	default:
		return nil, false, status.Error(codes.InvalidArgument, "data or text is required")
	}
}

func withMeta(meta map[string]string, k, v string) map[string]string {
	if meta == nil {
		meta = make(map[string]string)
	}
	meta[k] = v
	return meta
}
