// Command runnerd is the thin HTTP front door over the invocation
// pipeline: it authenticates a bearer JWT, decodes a CBOR operator
// request, runs it through pipeline.Pipeline, and writes back the CBOR
// response. Every actual behavior lives in the packages above; this
// binary only wires them together and terminates the transport.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/wasmrunner/host/cache"
	"github.com/wasmrunner/host/config"
	"github.com/wasmrunner/host/engine"
	"github.com/wasmrunner/host/i18n"
	"github.com/wasmrunner/host/internal/localpacks"
	"github.com/wasmrunner/host/packresolver"
	"github.com/wasmrunner/host/pipeline"
	"github.com/wasmrunner/host/policy"
	"github.com/wasmrunner/host/registry"
	"github.com/wasmrunner/host/secrets"
	"github.com/wasmrunner/host/telemetry"
	"github.com/wasmrunner/host/wire"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("runnerd: exiting", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	tenant := os.Getenv("RUNNER_TENANT")
	if tenant == "" {
		return errors.New("runnerd: RUNNER_TENANT must be set")
	}
	cfg, err := config.FromEnv(tenant)
	if err != nil {
		return errors.Wrap(err, "runnerd: invalid configuration")
	}

	jwtSecret := os.Getenv("RUNNER_JWT_SECRET")
	if jwtSecret == "" {
		return errors.New("runnerd: RUNNER_JWT_SECRET must be set")
	}

	listenAddr := os.Getenv("RUNNER_LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8088"
	}

	ctx := context.Background()
	eng, err := engine.NewWazeroEngine(ctx, engine.FromEngine("wazero", "wasm32-wasi", cfg.Engine.CPUPolicy, cfg.Engine.ConfigFingerprint))
	if err != nil {
		return errors.Wrap(err, "runnerd: failed to start wazero engine")
	}
	defer eng.Close(ctx)

	metricsReg := prometheus.NewRegistry()
	var disk *cache.DiskCache
	if cfg.Cache.DiskEnabled {
		disk, err = cache.NewDiskCache(cfg.Cache.Root, eng.Profile())
		if err != nil {
			return errors.Wrap(err, "runnerd: failed to open disk cache")
		}
		defer disk.Close()
	}
	mgr := cache.NewManager(eng, disk, cache.NewMetrics(metricsReg), log, cache.ManagerConfig{
		DiskEnabled:    cfg.Cache.DiskEnabled,
		MemoryEnabled:  cfg.Cache.MemoryEnabled,
		MemoryMaxBytes: cfg.Cache.MemoryMaxBytes,
		LFUProtectHits: cfg.Cache.LFUProtectHits,
	})

	reg := registry.Build(nil) // pack loading/signing happens upstream of this daemon and populates the registry separately
	resolver := packresolver.NewRegistry(packresolver.NewFsResolver(cfg.Cache.Root))

	deps := pipeline.Deps{
		Tenant:    cfg.Tenant,
		Registry:  reg,
		Cache:     mgr,
		Contracts: cache.NewContractCache(cfg.ContractCache.MaxBytes),
		Packs:     localpacks.New(resolver),
		Secrets:   secrets.NewEnvSecrets("RUNNER_SECRET_"),
		Policy:    policy.NewAllowList(nil, nil),
		Telemetry: telemetry.NewZapTelemetry(log),
		Locales:   i18n.NewSelector(cfg.CLILocale, os.Getenv, func() string { return "" }),
		Catalog:   i18n.NewCatalog(),
		Metrics:   pipeline.NewMetrics(metricsReg),
		Log:       log,
	}
	p := pipeline.New(deps)

	server := &fasthttp.Server{
		Handler: newHandler(p, jwtSecret, log),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("runnerd: listening", zap.String("addr", listenAddr))
		errCh <- server.ListenAndServe(listenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return errors.Wrap(err, "runnerd: listener failed")
	case <-sigCh:
		log.Info("runnerd: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.ShutdownWithContext(shutdownCtx)
	}
}

func newHandler(p *pipeline.Pipeline, jwtSecret string, log *zap.Logger) fasthttp.RequestHandler {
	return func(rc *fasthttp.RequestCtx) {
		if string(rc.Path()) != "/invoke" || !rc.IsPost() {
			rc.SetStatusCode(fasthttp.StatusNotFound)
			return
		}

		tenant, err := authenticate(rc, jwtSecret)
		if err != nil {
			log.Warn("runnerd: authentication failed", zap.Error(err))
			rc.SetStatusCode(fasthttp.StatusUnauthorized)
			return
		}

		req, err := wire.DecodeRequest(rc.PostBody())
		if err != nil {
			rc.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}
		if req.TenantID == "" {
			req.TenantID = tenant
		}

		resp := p.Invoke(rc, req)
		out, err := wire.EncodeResponse(resp)
		if err != nil {
			rc.SetStatusCode(fasthttp.StatusInternalServerError)
			return
		}
		rc.SetContentType("application/cbor")
		rc.SetBody(out)
	}
}

// authenticate validates the bearer JWT on the request and returns the
// tenant it asserts via its "tenant" claim.
func authenticate(rc *fasthttp.RequestCtx, secret string) (string, error) {
	auth := string(rc.Request.Header.Peek("Authorization"))
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return "", errors.New("missing bearer token")
	}
	tokenString := auth[len(prefix):]

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", errors.Wrap(err, "invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}
	tenant, _ := claims["tenant"].(string)
	if tenant == "" {
		return "", errors.New("token missing tenant claim")
	}
	return tenant, nil
}
