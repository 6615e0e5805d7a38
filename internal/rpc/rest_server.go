package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/ainvaltin/httpsrv"

	"github.com/stakegate/stakegate/internal/chain"
	"github.com/stakegate/stakegate/pkg/logger"
)

// Run serves the node REST API until ctx is cancelled.
func Run(ctx context.Context, addr string, node *chain.Node, log *logger.Logger) error {
	api := NewRestAPI(node, log)
	server := http.Server{
		Addr:              addr,
		Handler:           api.Router(),
		ReadTimeout:       3 * time.Second,
		ReadHeaderTimeout: time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	return httpsrv.Run(ctx, server, httpsrv.ShutdownTimeout(5*time.Second))
}
