package main

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/coreemu/coreemu/internal/config"
	"github.com/coreemu/coreemu/pkg/rpc"
)

// exitCodeFor maps a driver-facing failure onto the process exit codes of
// §7: 0 success, distinct nonzero codes for invalid state transition,
// unknown entity, kernel failure, unreachable peer, and cancellation.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	switch status.Code(err) {
	case codes.InvalidArgument:
		return 2 // invalid state transition / bad request
	case codes.NotFound:
		return 3 // unknown entity id
	case codes.Internal:
		return 4 // kernel operation failure
	case codes.Unavailable:
		return 5 // peer unreachable
	case codes.Canceled:
		return 6 // cancelled
	default:
		return 1
	}
}

// dialClient connects to the coreemu server at serverAddr and returns a
// ready-to-use rpc.Client. Every subcommand but `serve` needs one.
func dialClient(ctx context.Context) (*rpc.Client, func(), error) {
	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return rpc.NewClient(conn), func() { conn.Close() }, nil
}

// tableWidth resolves the operator's configured table width (0 if unset or
// the config can't be loaded, in which case callers fall back to
// $COLUMNS auto-detection).
func tableWidth() int {
	settings, err := config.Load()
	if err != nil {
		return 0
	}
	return settings.TableWidth
}
