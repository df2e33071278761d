package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kaikulimu/blazingmq/internal/blob"
	"github.com/kaikulimu/blazingmq/internal/cluster"
	"github.com/kaikulimu/blazingmq/internal/config"
	"github.com/kaikulimu/blazingmq/internal/coordinator"
	"github.com/kaikulimu/blazingmq/internal/ctrlmsg"
	"github.com/kaikulimu/blazingmq/internal/dispatcher"
	"github.com/kaikulimu/blazingmq/internal/ledger"
	"github.com/kaikulimu/blazingmq/internal/transport"
)

func main() {
	cfgPath := flag.String("config", "bmqbroker.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("broker exited", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := cluster.NewState(cfg.Cluster.PartitionCount, logger.Named("state"))
	data := cluster.NewClusterData(cfg.Cluster.NodeID)
	for _, n := range cfg.Cluster.Nodes {
		data.AddNode(&cluster.Node{
			ID:         n.ID,
			Name:       n.Name,
			Address:    n.Address,
			DataCenter: n.DataCenter,
			Available:  true,
		})
	}

	disp := dispatcher.NewSingle(1024, logger.Named("dispatcher"))
	disp.Start()
	defer disp.Stop()

	csl, err := openLedger(cfg, state, disp, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer csl.Close()

	// Rebuild cluster state from the journal before serving anything.
	it, err := csl.Iterate(ctx)
	if err != nil {
		return err
	}
	if err := coordinator.Load(state, it, logger.Named("replay")); err != nil {
		it.Close()
		return fmt.Errorf("ledger replay: %w", err)
	}
	it.Close()

	peers := make(map[cluster.NodeID]string, len(cfg.Cluster.Nodes))
	for _, n := range cfg.Cluster.Nodes {
		peers[n.ID] = n.Address
	}
	relay, err := transport.NewTCP(transport.Config{
		NodeID:        cfg.Cluster.NodeID,
		Address:       cfg.Transport.Address,
		PeerAddresses: peers,
		Logger:        logger.Named("transport"),
	}, func(event *blob.Blob) {
		msg, err := coordinator.ExtractMessage(event)
		if err != nil {
			logger.Warn("dropping malformed cluster state event", zap.Error(err))
			return
		}
		disp.Execute(func() {
			if err := state.Apply(msg); err != nil {
				logger.Error("cluster state apply failed",
					zap.String("choice", msg.Choice()), zap.Error(err))
			}
		})
	})
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer relay.Close()

	logger.Info("bmqbrokerd up",
		zap.String("cluster", cfg.Cluster.Name),
		zap.Int32("nodeId", cfg.Cluster.NodeID),
		zap.Int("partitions", cfg.Cluster.PartitionCount),
		zap.String("ledgerBackend", cfg.Ledger.Backend),
		zap.String("transport", relay.Addr()))

	// Static leadership for the memory and sqlite backends: the lowest node
	// id leads. The replicated backend owns leadership via its raft group.
	if leaderID := lowestNodeID(cfg); cfg.Ledger.Backend != "replicated" && leaderID == cfg.Cluster.NodeID {
		// A new tenure starts past whatever term the journal already holds.
		term := uint64(1)
		if last, found, err := coordinator.LatestLedgerLSN(ctx, csl); err != nil {
			return err
		} else if found {
			term = last.LeaderTerm + 1
		}
		data.SetLeader(leaderID, term)
		disp.Execute(func() {
			if err := bootstrapLeader(ctx, cfg, state, data, csl, relay, logger); err != nil {
				logger.Error("leader bootstrap failed", zap.Error(err))
			}
		})
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func openLedger(cfg config.Config, state *cluster.State, disp *dispatcher.Single, logger *zap.Logger) (ledger.Ledger, error) {
	switch cfg.Ledger.Backend {
	case "memory":
		return ledger.NewMemory(), nil
	case "sqlite":
		return ledger.OpenSQLite(cfg.Ledger.Dir)
	case "replicated":
		peerAddrs := make(map[uint64]string, len(cfg.Ledger.Replication.Peers))
		for _, p := range cfg.Ledger.Replication.Peers {
			peerAddrs[p.ID] = p.Address
		}
		r, err := ledger.NewReplicated(ledger.ReplicatedConfig{
			NodeID:              uint64(cfg.Cluster.NodeID),
			Address:             cfg.Ledger.Replication.Address,
			PeerAddresses:       peerAddrs,
			BootstrapNewCluster: cfg.Ledger.Replication.Bootstrap,
			Logger:              logger.Named("csl"),
			Apply: func(lsn ctrlmsg.LeaderMessageSequence, msg *ctrlmsg.ClusterMessage) {
				disp.Execute(func() {
					if err := state.Apply(msg); err != nil {
						logger.Error("committed advisory apply failed",
							zap.String("lsn", lsn.Format()), zap.Error(err))
					}
				})
			},
		})
		if err != nil {
			return nil, err
		}
		r.Start()
		return r, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

func lowestNodeID(cfg config.Config) cluster.NodeID {
	lowest := cfg.Cluster.Nodes[0].ID
	for _, n := range cfg.Cluster.Nodes[1:] {
		if n.ID < lowest {
			lowest = n.ID
		}
	}
	return lowest
}

// bootstrapLeader assigns orphan partitions and disseminates the resulting
// state to followers. Runs on the dispatcher goroutine.
func bootstrapLeader(ctx context.Context, cfg config.Config, state *cluster.State, data *cluster.ClusterData, csl ledger.Ledger, relay coordinator.Relay, logger *zap.Logger) error {
	algo := coordinator.LeastAssigned
	if cfg.Cluster.AssignmentAlgorithm == "leader_is_senior" {
		algo = coordinator.LeaderIsSenior
	}
	partitions, err := coordinator.AssignPartitions(state, data, algo, logger.Named("assign"))
	if err != nil {
		return err
	}
	if err := coordinator.JournalPartitionAssignments(ctx, state, data, csl, partitions, logger); err != nil {
		return err
	}
	if len(cfg.Cluster.Nodes) == 1 {
		return nil
	}
	return coordinator.SendClusterState(ctx, state, data, csl, relay, true, true, cluster.NullNodeID, partitions, logger)
}
