package redis

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"possync/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

// mapErr translates go-redis failures into the domain taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, redis.Nil):
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%w: %v", domain.ErrTransactionConflict, err)
	case errors.Is(err, redis.ErrClosed):
		return fmt.Errorf("%w: %w: %v", domain.ErrTransport, domain.ErrUnavailable, err)
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		msg := rerr.Error()
		for _, p := range []string{"NOPERM", "NOAUTH", "WRONGPASS"} {
			if strings.HasPrefix(msg, p) {
				return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
			}
		}
		if strings.HasPrefix(msg, "LOADING") || strings.HasPrefix(msg, "TRYAGAIN") || strings.HasPrefix(msg, "CLUSTERDOWN") {
			return fmt.Errorf("%w: %w: %v", domain.ErrTransport, domain.ErrUnavailable, err)
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return fmt.Errorf("%w: %w: %v", domain.ErrTransport, domain.ErrUnavailable, err)
	}
	return err
}
