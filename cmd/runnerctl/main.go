// Command runnerctl is the operator-facing CLI for the host: cache
// inspection/maintenance and ad-hoc invocation against a local pack set,
// built as one urfave/cli.App with a handful of subcommands over the same
// packages the daemon wires.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"
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

var (
	flagTenant = cli.StringFlag{Name: "tenant", Usage: "tenant identifier", EnvVar: "RUNNER_TENANT"}
	flagRoot   = cli.StringFlag{Name: "cache-root", Usage: "disk cache root directory", EnvVar: "RUNNER_CACHE_ROOT"}
)

func main() {
	app := cli.NewApp()
	app.Name = "runnerctl"
	app.Usage = "operate the operator invocation host: cache stats/prune, ad-hoc invoke"
	app.Flags = []cli.Flag{flagTenant, flagRoot}
	app.Commands = []cli.Command{
		cacheCmd,
		invokeCmd,
	}

	if err := app.Run(os.Args); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "runnerctl: %v\n", err)
		os.Exit(1)
	}
}

var cacheCmd = cli.Command{
	Name:  "cache",
	Usage: "inspect or maintain the on-disk artifact cache",
	Subcommands: []cli.Command{
		{
			Name:   "stats",
			Usage:  "report artifact count and approximate size",
			Action: cacheStatsAction,
		},
		{
			Name:  "prune",
			Usage: "prune the disk cache to its configured byte limit",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "dry-run", Usage: "report what would be removed without deleting"},
			},
			Action: cachePruneAction,
		},
	},
}

func openDiskCache(c *cli.Context) (*cache.DiskCache, error) {
	tenant := c.GlobalString("tenant")
	if tenant == "" {
		return nil, errors.New("--tenant is required")
	}
	cfg, err := config.FromEnv(tenant)
	if err != nil {
		return nil, errors.Wrap(err, "load configuration")
	}
	if root := c.GlobalString("cache-root"); root != "" {
		cfg.Cache.Root = root
	}

	eng, err := engine.NewWazeroEngine(context.Background(), engine.FromEngine("wazero", "wasm32-wasi", cfg.Engine.CPUPolicy, cfg.Engine.ConfigFingerprint))
	if err != nil {
		return nil, errors.Wrap(err, "start wazero engine")
	}
	return cache.NewDiskCache(cfg.Cache.Root, eng.Profile())
}

func cacheStatsAction(c *cli.Context) error {
	disk, err := openDiskCache(c)
	if err != nil {
		return err
	}
	defer disk.Close()

	size, err := disk.ApproxSizeBytes()
	if err != nil {
		return errors.Wrap(err, "compute cache size")
	}
	count, err := disk.ArtifactCount()
	if err != nil {
		return errors.Wrap(err, "count artifacts")
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("artifacts: %s\nsize_bytes: %s\n", green(count), green(size))
	return nil
}

func cachePruneAction(c *cli.Context) error {
	disk, err := openDiskCache(c)
	if err != nil {
		return err
	}
	defer disk.Close()

	tenant := c.GlobalString("tenant")
	cfg, err := config.FromEnv(tenant)
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}

	result, err := disk.PruneToLimit(cfg.Cache.DiskMaxBytes, c.Bool("dry-run"))
	if err != nil {
		return errors.Wrap(err, "prune disk cache")
	}

	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Printf("removed_entries: %s\nremoved_bytes: %s\n", yellow(result.RemovedEntries), yellow(result.RemovedBytes))
	return nil
}

var invokeCmd = cli.Command{
	Name:      "invoke",
	Usage:     "invoke a single operator request against a local pack directory",
	ArgsUsage: "<pack-dir>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "provider-id", Usage: "provider_id selector"},
		cli.StringFlag{Name: "provider-type", Usage: "provider_type selector"},
		cli.StringFlag{Name: "op-id", Value: "run", Usage: "operation identifier"},
		cli.StringFlag{Name: "input", Usage: "path to a file containing the CBOR-encoded input (- for stdin)"},
		cli.StringFlag{Name: "locale", Usage: "request locale override"},
	},
	Action: invokeAction,
}

func invokeAction(c *cli.Context) error {
	packDir := c.Args().First()
	if packDir == "" {
		return errors.New("usage: runnerctl invoke <pack-dir>")
	}
	tenant := c.GlobalString("tenant")
	if tenant == "" {
		return errors.New("--tenant is required")
	}

	cfg, err := config.FromEnv(tenant)
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	if root := c.GlobalString("cache-root"); root != "" {
		cfg.Cache.Root = root
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return errors.Wrap(err, "build logger")
	}
	defer log.Sync()

	ctx := context.Background()
	eng, err := engine.NewWazeroEngine(ctx, engine.FromEngine("wazero", "wasm32-wasi", cfg.Engine.CPUPolicy, cfg.Engine.ConfigFingerprint))
	if err != nil {
		return errors.Wrap(err, "start wazero engine")
	}
	defer eng.Close(ctx)

	var disk *cache.DiskCache
	if cfg.Cache.DiskEnabled {
		disk, err = cache.NewDiskCache(cfg.Cache.Root, eng.Profile())
		if err != nil {
			return errors.Wrap(err, "open disk cache")
		}
		defer disk.Close()
	}

	mgr := cache.NewManager(eng, disk, cache.NewMetrics(newLocalRegisterer()), log, cache.ManagerConfig{
		DiskEnabled:    cfg.Cache.DiskEnabled,
		MemoryEnabled:  cfg.Cache.MemoryEnabled,
		MemoryMaxBytes: cfg.Cache.MemoryMaxBytes,
		LFUProtectHits: cfg.Cache.LFUProtectHits,
	})

	resolver := packresolver.NewRegistry(packresolver.NewFsResolver(packDir))
	packs, err := loadManifest(packDir)
	if err != nil {
		return errors.Wrap(err, "load pack manifest")
	}
	reg := registry.Build(packs)

	deps := pipeline.Deps{
		Tenant:    tenant,
		Registry:  reg,
		Cache:     mgr,
		Contracts: cache.NewContractCache(cfg.ContractCache.MaxBytes),
		Packs:     localpacks.New(resolver),
		Secrets:   secrets.NewEnvSecrets("RUNNER_SECRET_"),
		Policy:    policy.NewAllowList(nil, nil),
		Telemetry: telemetry.NewZapTelemetry(log),
		Locales:   i18n.NewSelector(cfg.CLILocale, os.Getenv, func() string { return "" }),
		Catalog:   i18n.NewCatalog(),
		Metrics:   pipeline.NewMetrics(newLocalRegisterer()),
		Log:       log,
	}
	p := pipeline.New(deps)

	input, err := readInput(c.String("input"))
	if err != nil {
		return errors.Wrap(err, "read input")
	}

	req := wire.Request{
		TenantID:     tenant,
		ProviderID:   c.String("provider-id"),
		ProviderType: c.String("provider-type"),
		OpID:         c.String("op-id"),
		Locale:       c.String("locale"),
		Payload:      wire.Payload{EncodedInput: input},
	}

	resp := p.Invoke(ctx, req)
	return printResponse(resp)
}

// loadManifest reads <packDir>/packs.json, a CLI-only convenience manifest
// of registry.Pack declarations. Real pack loading (signature verification,
// fetching from a pack store) is handled elsewhere; this manifest only
// exists so `runnerctl invoke` has something to resolve against without a
// running host process.
func loadManifest(packDir string) ([]registry.Pack, error) {
	raw, err := os.ReadFile(packDir + "/packs.json")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var packs []registry.Pack
	if err := json.Unmarshal(raw, &packs); err != nil {
		return nil, errors.Wrap(err, "parse packs.json")
	}
	return packs, nil
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	if path == "-" {
		return os.ReadFile("/dev/stdin")
	}
	return os.ReadFile(path)
}

// newLocalRegisterer gives each ad-hoc `invoke` run its own Prometheus
// registry so repeated CLI invocations within one process (tests, a REPL
// wrapper) never collide on metric names the way a shared global registry
// would.
func newLocalRegisterer() prometheus.Registerer {
	return prometheus.NewRegistry()
}

func printResponse(resp wire.Response) error {
	if resp.Status == wire.StatusOk {
		value, err := wire.DecodeValue(resp.EncodedOutput)
		if err != nil {
			return errors.Wrap(err, "decode output")
		}
		out, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return errors.Wrap(err, "marshal output")
		}
		color.New(color.FgGreen).Println("ok")
		fmt.Println(string(out))
		return nil
	}

	color.New(color.FgRed).Printf("error: %s: %s\n", resp.Error.Code, resp.Error.Message)
	for _, d := range resp.Error.Details {
		fmt.Printf("  [%s] %s: %s\n", d.Severity, d.Path, d.Message)
	}
	return cli.NewExitError("invocation failed", 1)
}
