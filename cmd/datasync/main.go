package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/datasync-io/datasync/internal/config"
	"github.com/datasync-io/datasync/internal/health"
	"github.com/datasync-io/datasync/internal/model"
	"github.com/datasync-io/datasync/internal/server"
	"github.com/datasync-io/datasync/internal/service"
	"github.com/datasync-io/datasync/pkg/db"
	"go.uber.org/zap"
)

func main() {
	execSQL := flag.String("e", "", "execute one statement and exit")
	waitLeader := flag.Bool("wait-leader", false, "block until this peer holds leadership before executing")
	flag.Parse()

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Database.DataDir, 0o755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}

	registry := db.NewRegistry(cfg, logger)
	defer registry.Close()

	if cfg.Presence.Enabled {
		// Presence identity is shared by all handles in this process
		peerID := hostPeerID()
		prom := registry.NewPeerMetrics("presence", peerID)
		presence, err := service.NewPresenceService(cfg.Presence, peerID, prom, logger)
		if err != nil {
			logger.Error("Failed to initialize presence service", zap.Error(err))
		} else {
			defer presence.Shutdown()
			registry.SetPresence(presence)
			logger.Info("Presence service initialized",
				zap.Int("bind_port", cfg.Presence.BindPort))
		}
	}

	database, err := registry.Open(cfg.Database.Name)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}

	if cfg.Metrics.Enabled {
		checker := health.NewChecker(database.PeerID(), cfg.Database.DataDir, logger)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go checker.Start(ctx)

		ms := server.NewMetricsServer(&server.MetricsServerConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, registry.Gatherer(), checker, logger)
		ms.Start()
		defer ms.Stop()
	}

	if *waitLeader {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := database.WaitForLeadership(ctx)
		cancel()
		if err != nil {
			logger.Fatal("Leadership not acquired", zap.Error(err))
		}
	}

	if *execSQL != "" {
		if err := runStatement(database, *execSQL); err != nil {
			logger.Fatal("Statement failed", zap.Error(err))
		}
		return
	}

	runREPL(database, logger)
}

// runStatement executes one statement and prints the result as JSON
func runStatement(database *db.Database, sql string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rs, err := database.Execute(ctx, sql)
	if err != nil {
		return err
	}
	return printResult(rs)
}

// runREPL reads statements from stdin until EOF or a signal
func runREPL(database *db.Database, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down")
		os.Exit(0)
	}()

	fmt.Printf("datasync %s (peer %s)\n", database.Name(), database.PeerID())
	fmt.Println(`Enter SQL statements, ".status" for coordination state, ".exit" to quit`)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == ".exit":
			return
		case line == ".status":
			printStatus(database)
			continue
		}

		if err := runStatement(database, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func printStatus(database *db.Database) {
	m := database.CoordinationMetrics()
	fmt.Printf("state=%s term=%d leader=%s\n",
		database.State(), database.Term(), database.LeaderID())
	fmt.Printf("leadership_changes=%d write_conflicts=%d follower_refreshes=%d avg_latency_ms=%.2f\n",
		m.LeadershipChanges, m.WriteConflicts, m.FollowerRefreshes, m.AvgNotificationLatencyMS)
}

func printResult(rs *model.ResultSet) error {
	if len(rs.Columns) == 0 {
		fmt.Printf("ok (affected=%d last_insert_id=%d)\n", rs.AffectedRows, rs.LastInsertID)
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	for _, row := range rs.Rows {
		record := make(map[string]interface{}, len(rs.Columns))
		for i, col := range rs.Columns {
			record[col] = row[i]
		}
		if err := enc.Encode(record); err != nil {
			return err
		}
	}
	return nil
}

// initLogger builds the zap logger from config
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zc.Level = level
	return zc.Build()
}

func hostPeerID() string {
	host, err := os.Hostname()
	if err != nil {
		return fmt.Sprintf("peer-%d", os.Getpid())
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
