package server

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/glinharesb/sekeys/internal/audit"
)

type RandomServer struct {
	keys  *Registry
	audit *audit.Logger
}

func NewRandomServer(keys *Registry, a *audit.Logger) *RandomServer {
	return &RandomServer{keys: keys, audit: a}
}

// GetRandom handles {length, trng}. trng selects the true random generator;
// the deterministic one is used otherwise.
func (s *RandomServer) GetRandom(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	n, err := intField(req, "length")
	if err != nil {
		return nil, err
	}
	trng, err := boolField(req, "trng")
	if err != nil {
		return nil, err
	}

	source := "drng"
	if trng {
		source = "trng"
	}
	out, err := s.keys.Random(ctx, n, trng)
	logAudit(ctx, s.audit, "GetRandom", "", "", err, map[string]string{"source": source})
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{"random": encodeBytes(out)})
}
