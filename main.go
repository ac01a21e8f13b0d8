package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"election-ledger/api"
	"election-ledger/blockchain/ledger"
	"election-ledger/encryption"
	"election-ledger/registry"
	"election-ledger/service"
	"election-ledger/storage"
)

type Config struct {
	StorageDir      string
	RollFile        string
	SessionDuration time.Duration
	Difficulty      int
	MaxAttempts     uint64
	AuditInterval   time.Duration
	AuditKeep       int
	QueueSize       int
	VoteRate        float64
	VoteBurst       int
	AdminToken      string
	Port            int
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}
	valInt, err := strconv.Atoi(valStr)
	if err != nil {
		log.Printf("Warning: Invalid integer value for %s: %s. Using default %d.", key, valStr, defaultValue)
		return defaultValue
	}
	return valInt
}

func getEnvFloat(key string, defaultValue float64) float64 {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid number for %s: %s. Using default %g.", key, valStr, defaultValue)
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(valStr)
	if err != nil {
		log.Printf("Warning: Invalid duration for %s: %s. Using default %v.", key, valStr, defaultValue)
		return defaultValue
	}
	return d
}

func loadEnvFile() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
		return
	}
	log.Println("Loaded .env file")
}

// parseFlags reads the environment first; flags given on the command line win.
func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.StorageDir, "storage", getEnv("DATA_DIR", "data"), "Directory for vote store, key and audit reports")
	flag.StringVar(&config.RollFile, "roll", getEnv("ROLL_FILE", ""), "Voter roll file (default <storage>/roll.json)")
	flag.DurationVar(&config.SessionDuration, "session", getEnvDuration("SESSION_DURATION", 24*time.Hour), "Voting session duration")
	flag.IntVar(&config.Difficulty, "difficulty", getEnvInt("LEDGER_DIFFICULTY", ledger.DefaultDifficulty), "Mining difficulty in leading zero hex digits (1-64)")
	maxAttempts := flag.Int("max-attempts", getEnvInt("MAX_ATTEMPTS", 0), "Give up mining a block after this many hashes (0 = never)")
	flag.DurationVar(&config.AuditInterval, "audit-interval", getEnvDuration("AUDIT_INTERVAL", time.Minute), "Chain audit interval (0 disables)")
	flag.IntVar(&config.AuditKeep, "audit-keep", getEnvInt("AUDIT_KEEP", 50), "Number of audit reports to keep")
	flag.IntVar(&config.QueueSize, "queue", getEnvInt("QUEUE_SIZE", 100), "Vote queue size")
	flag.Float64Var(&config.VoteRate, "vote-rate", getEnvFloat("VOTE_RATE", 50), "Accepted votes per second (0 disables throttling)")
	flag.IntVar(&config.VoteBurst, "vote-burst", getEnvInt("VOTE_BURST", 20), "Vote burst size")
	flag.StringVar(&config.AdminToken, "admin-token", getEnv("ADMIN_TOKEN", ""), "Token for the /api/admin routes (empty disables them)")
	flag.IntVar(&config.Port, "port", getEnvInt("API_PORT", 8080), "Server port")

	flag.Parse()

	if config.Difficulty < 1 || config.Difficulty > ledger.MaxDifficulty {
		log.Fatalf("Difficulty must be between 1 and %d", ledger.MaxDifficulty)
	}
	if *maxAttempts < 0 {
		log.Fatal("max-attempts must not be negative")
	}
	config.MaxAttempts = uint64(*maxAttempts)
	if config.RollFile == "" {
		config.RollFile = filepath.Join(config.StorageDir, "roll.json")
	}

	return config
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	loadEnvFile()
	config := parseFlags()

	if err := os.MkdirAll(config.StorageDir, 0755); err != nil {
		log.Fatalf("Failed to setup storage: %v", err)
	}

	roll, err := registry.NewFileRoll(registry.Config{RollFilePath: config.RollFile})
	if err != nil {
		log.Fatalf("Failed to load voter roll: %v", err)
	}

	store, err := storage.NewVoteStore(config.StorageDir)
	if err != nil {
		log.Fatalf("Failed to open vote store: %v", err)
	}
	defer store.Close()

	key, err := encryption.LoadOrGenerateKey(config.StorageDir)
	if err != nil {
		log.Fatalf("Failed to load signing key: %v", err)
	}

	archive, err := storage.NewAuditArchive(filepath.Join(config.StorageDir, "audits"), config.AuditKeep)
	if err != nil {
		log.Fatalf("Failed to open audit archive: %v", err)
	}

	chain := ledger.New(ledger.Config{
		Difficulty:  config.Difficulty,
		MaxAttempts: config.MaxAttempts,
		OnSealed:    service.RecordSealed,
	})

	votingService, err := service.NewVotingService(service.Options{
		Ledger:  chain,
		Store:   store,
		Roll:    roll,
		Crypto:  encryption.NewCryptoService(key),
		Session: service.NewVotingSession(config.SessionDuration),
	})
	if err != nil {
		log.Fatalf("Failed to initialize voting service: %v", err)
	}

	if n, err := store.Count(); err == nil && n > 0 {
		log.Printf("Warning: vote store holds %d votes from an earlier run; the ledger starts from genesis", n)
	}

	queue := service.NewVoteQueue(votingService, config.QueueSize)
	queue.Start()

	auditor := service.NewAuditor(chain, archive, config.AuditInterval)

	var limiter *rate.Limiter
	if config.VoteRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.VoteRate), config.VoteBurst)
	}

	server := api.NewServer(api.Options{
		Voting:     votingService,
		Queue:      queue,
		Auditor:    auditor,
		Archive:    archive,
		Limiter:    limiter,
		Roll:       roll,
		AdminToken: config.AdminToken,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	go auditor.Run(ctx)

	if config.AdminToken == "" {
		log.Println("Admin API disabled: no admin token configured")
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverChan := make(chan error, 1)
	go func() {
		log.Printf("Starting server on port %d (difficulty %d, signer %s)", config.Port, chain.Difficulty(), votingService.Signer())
		serverChan <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverChan:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	case <-ctx.Done():
		log.Println("Shutdown signal received")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during server shutdown: %v", err)
	}
	server.Hub().Close()
	queue.Stop()
	votingService.EndVotingSession()

	final := auditor.AuditOnce()
	log.Printf("Final audit: %d blocks, valid=%t", final.ChainLength, final.Valid)
	log.Println("Server shutdown completed")
}
