package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/asset"
	"github.com/alanyoungcy/dcaengine/internal/config"
	"github.com/alanyoungcy/dcaengine/internal/crypto"
	"github.com/alanyoungcy/dcaengine/internal/dca"
	"github.com/alanyoungcy/dcaengine/internal/domain"
	"github.com/alanyoungcy/dcaengine/internal/exchange"
	"github.com/alanyoungcy/dcaengine/internal/fees"
	"github.com/alanyoungcy/dcaengine/internal/journal"
	"github.com/alanyoungcy/dcaengine/internal/ledger"
	"github.com/alanyoungcy/dcaengine/internal/pipeline"
	"github.com/alanyoungcy/dcaengine/internal/product"
	"github.com/alanyoungcy/dcaengine/internal/server/ws"
	"github.com/alanyoungcy/dcaengine/internal/strategy"
)

// Core is the in-process engine and everything that settles through it.
type Core struct {
	Bank      *asset.Bank
	Exchange  *exchange.Static
	Ledger    *ledger.Ledger
	Engine    *dca.Engine
	Allocator *strategy.Allocator
	Recorder  *journal.Recorder
	Hub       *ws.Hub

	// Components are the satellites snapshotted alongside the engine.
	Components []pipeline.Component
}

// BuildCore assembles the engine, allocator, ledger and adapters from cfg
// and routes their events into the journal recorder. In full mode with the
// HTTP server enabled a hub is created; it follows the event bus when one
// is wired and is fed directly by the recorder otherwise.
func BuildCore(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Core, error) {
	c := &Core{Bank: asset.NewBank()}

	var opts []journal.Option
	if deps.Journal != nil {
		opts = append(opts, journal.WithStore(deps.Journal))
	}
	if deps.Bus != nil {
		opts = append(opts, journal.WithBus(deps.Bus))
	}
	if deps.Notifier != nil {
		opts = append(opts, journal.WithSinks(deps.Notifier))
	}
	if cfg.Server.Enabled && strings.EqualFold(cfg.Mode, "full") {
		c.Hub = ws.NewHub(deps.Bus, journal.Channel("*"), logger)
		if deps.Bus == nil {
			opts = append(opts, journal.WithSinks(c.Hub))
		}
	}
	c.Recorder = journal.New(logger, opts...)

	venue := common.HexToAddress(cfg.Exchange.Venue)
	c.Exchange = exchange.NewStatic(venue, c.Bank.Account(venue), logger)
	if err := applyRates(c.Exchange, cfg.Exchange.Rates); err != nil {
		return nil, err
	}

	ledgerCustody := common.HexToAddress(cfg.Ledger.Custody)
	c.Ledger = ledger.New(ledgerCustody, c.Bank.Account(ledgerCustody), logger)

	swappers := addresses(cfg.Engine.Swappers)
	if key, err := swapperKey(cfg); err == nil {
		swappers = append(swappers, key.Address)
	}
	engineCustody := common.HexToAddress(cfg.Engine.Custody)
	var err error
	c.Engine, err = dca.New(dca.Config{
		MinInterval:  cfg.Engine.MinInterval.Duration,
		SwapFeeBP:    cfg.Engine.SwapFeeBP,
		Custody:      engineCustody,
		FeeRecipient: common.HexToAddress(cfg.Engine.FeeRecipient),
		Swappers:     swappers,
		Admin:        common.HexToAddress(cfg.Engine.Admin),
	}, c.Exchange, c.Bank.Account(engineCustody), c.Ledger, logger, dca.WithSink(c.Recorder))
	if err != nil {
		return nil, fmt.Errorf("app: engine: %w", err)
	}

	registry := strategy.NewRegistry()
	c.Components = []pipeline.Component{
		{Name: "bank", State: c.Bank},
		{Name: "exchange", State: c.Exchange},
		{Name: "ledger", State: c.Ledger},
	}
	p := cfg.Products
	if len(p.Vaults) > 0 {
		custody := common.HexToAddress(p.VaultCustody)
		v := product.NewVault(custody, c.Bank.Account(custody), targets(p.Vaults), logger)
		registry.Register(v)
		c.Components = append(c.Components, pipeline.Component{Name: "vault", State: v})
	}
	if len(p.Ranges) > 0 {
		custody := common.HexToAddress(p.RangeCustody)
		l := product.NewLiquidity(custody, c.Bank.Account(custody), targets(p.Ranges), logger)
		registry.Register(l)
		c.Components = append(c.Components, pipeline.Component{Name: "liquidity", State: l})
	}
	if len(p.Buys) > 0 {
		custody := common.HexToAddress(p.BuyCustody)
		b := product.NewBuy(custody, c.Bank.Account(custody), c.Exchange, addresses(p.Buys), logger)
		registry.Register(b)
		c.Components = append(c.Components, pipeline.Component{Name: "buy", State: b})
	}

	schedule, err := feeSchedule(cfg.Fees)
	if err != nil {
		return nil, err
	}
	oracle := crypto.NewPermitOracle(common.HexToAddress(cfg.Permit.Authority), cfg.Permit.ChainID)
	allocCustody := common.HexToAddress(cfg.Strategy.Custody)
	c.Allocator, err = strategy.New(strategy.Config{
		Admin:         common.HexToAddress(cfg.Strategy.Admin),
		Treasury:      common.HexToAddress(cfg.Strategy.Treasury),
		Custody:       allocCustody,
		MaxHot:        cfg.Strategy.MaxHot,
		MaxPerProduct: cfg.Strategy.MaxPerProduct,
		MaxTotal:      cfg.Strategy.MaxTotal,
		MaxFeeBP:      cfg.Fees.MaxFeeBP,
		Fees:          schedule,
	}, c.Engine, oracle, c.Exchange, c.Bank.Account(allocCustody), c.Ledger, registry, logger)
	if err != nil {
		return nil, fmt.Errorf("app: allocator: %w", err)
	}
	c.Components = append(c.Components, pipeline.Component{Name: "strategy", State: c.Allocator})

	return c, nil
}

// Restore loads the newest snapshots. On a cold start, with nothing to
// restore, the configured reserves are minted instead. Configured rates
// always win over restored ones.
func (c *Core) Restore(ctx context.Context, cfg *config.Config, snapshots domain.SnapshotStore, logger *slog.Logger) error {
	restored := 0
	if snapshots != nil {
		var err error
		restored, err = pipeline.NewSnapshotter(snapshots, c.Engine, c.Components, 0, logger).Restore(ctx)
		if err != nil {
			return fmt.Errorf("app: restore: %w", err)
		}
	}
	if restored > 0 {
		logger.InfoContext(ctx, "app: state restored", slog.Int("components", restored))
		return applyRates(c.Exchange, cfg.Exchange.Rates)
	}

	for _, r := range cfg.Exchange.Reserves {
		amount, ok := new(big.Int).SetString(r.Amount, 10)
		if !ok {
			return fmt.Errorf("app: reserve amount %q", r.Amount)
		}
		holder := c.Exchange.Venue()
		if r.Holder != "" {
			holder = common.HexToAddress(r.Holder)
		}
		if err := c.Bank.Mint(common.HexToAddress(r.Token), holder, amount); err != nil {
			return fmt.Errorf("app: mint reserve: %w", err)
		}
	}
	logger.InfoContext(ctx, "app: cold start", slog.Int("reserves", len(cfg.Exchange.Reserves)))
	return nil
}

// Snapshotter returns the scheduled snapshot job, or nil without a store.
func (c *Core) Snapshotter(cfg *config.Config, snapshots domain.SnapshotStore, logger *slog.Logger) *pipeline.Snapshotter {
	if snapshots == nil {
		return nil
	}
	return pipeline.NewSnapshotter(snapshots, c.Engine, c.Components, cfg.Snapshot.Keep, logger)
}

func applyRates(ex *exchange.Static, rates []config.RateConfig) error {
	for _, r := range rates {
		rate, err := exchange.ParseRate(r.Rate)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		ex.SetRate(common.HexToAddress(r.From), common.HexToAddress(r.To), rate)
	}
	return nil
}

func feeSchedule(fc config.FeesConfig) (fees.Schedule, error) {
	s := fees.Schedule{
		Base:            make(map[domain.Product]uint32, len(fc.Base)),
		NonSubscriber:   make(map[domain.Product]uint32, len(fc.NonSubscriber)),
		StrategistBP:    fc.StrategistBP,
		HotStrategistBP: fc.HotStrategistBP,
		ReferrerBP:      fc.ReferrerBP,
	}
	for p, bp := range fc.Base {
		s.Base[domain.Product(p)] = bp
	}
	for p, bp := range fc.NonSubscriber {
		s.NonSubscriber[domain.Product(p)] = bp
	}
	maxBP := fc.MaxFeeBP
	if maxBP == 0 {
		maxBP = fees.DefaultMaxFeeBP
	}
	if err := s.Validate(maxBP); err != nil {
		return fees.Schedule{}, fmt.Errorf("app: %w", err)
	}
	return s, nil
}

func swapperKey(cfg *config.Config) (crypto.Key, error) {
	return crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
}

func addresses(in []string) []common.Address {
	out := make([]common.Address, 0, len(in))
	for _, s := range in {
		out = append(out, common.HexToAddress(s))
	}
	return out
}

func targets(in []config.TargetConfig) map[common.Address]common.Address {
	out := make(map[common.Address]common.Address, len(in))
	for _, t := range in {
		out[common.HexToAddress(t.Target)] = common.HexToAddress(t.Asset)
	}
	return out
}

// serverLoop adapts the HTTP server to a pipeline loop.
type serverLoop struct {
	start    func() error
	shutdown func(context.Context) error
}

func (s serverLoop) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.start() }()
	select {
	case err := <-errCh:
		if err == nil {
			err = errors.New("app: http server exited")
		}
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.shutdown(shutCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}
