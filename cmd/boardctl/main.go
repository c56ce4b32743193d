package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"meal-board/internal/app"
	"meal-board/internal/config"
	"meal-board/internal/database"
	"meal-board/internal/identity"
	"meal-board/internal/logging"
	"meal-board/internal/metrics"
)

func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.NewFromEnv()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := logging.New(cfg.LogLevel, "text")

	switch os.Args[1] {
	case "migrate":
		if err := database.RunMigrations(cfg.DatabasePath); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		status, err := database.Status(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to read schema version: %v", err)
		}
		if !status.Current() {
			log.Fatalf("Schema at version %d (dirty: %t), expected %d", status.Version, status.Dirty, status.Latest)
		}
		fmt.Printf("Database is up to date (schema version %d).\n", status.Version)

	case "renormalize":
		db := openDB(cfg, log)
		defer db.Close()

		rt, err := app.NewRuntime(ctx, cfg, db.SQL, log)
		if err != nil {
			log.Fatalf("Failed to initialize application: %v", err)
		}
		defer rt.Close()

		report, err := rt.App.Renormalize(ctx)
		if err != nil {
			log.Fatalf("Renormalize failed: %v", err)
		}
		fmt.Printf("Boards: %d, rewritten: %d, failed: %d, images pending: %d\n",
			report.Boards, report.Rewritten, report.Failed, report.ImagesPending)
		if report.Failed > 0 {
			os.Exit(1)
		}

	case "ingestion-report":
		reportCmd := flag.NewFlagSet("ingestion-report", flag.ExitOnError)
		days := reportCmd.Int("days", 7, "Report on the last N days")
		reportCmd.Parse(os.Args[2:])

		db := openDB(cfg, log)
		defer db.Close()

		rows, err := metrics.NewStore(db.SQL).GetDailyIngestions(ctx, *days)
		if err != nil {
			log.Fatalf("Report failed: %v", err)
		}
		if len(rows) == 0 {
			fmt.Println("No ingestions recorded.")
			return
		}
		fmt.Printf("%-12s %8s %8s %8s %8s %10s\n", "DATE", "TOTAL", "INGESTED", "PENDING", "FAILED", "AVG MS")
		for _, r := range rows {
			fmt.Printf("%-12s %8d %8d %8d %8d %10d\n", r.Date, r.Total(), r.Ingested, r.Pending, r.Failed, r.AvgLatencyMS)
		}

	case "metrics-cleanup":
		cleanupCmd := flag.NewFlagSet("metrics-cleanup", flag.ExitOnError)
		days := cleanupCmd.Int("days", 30, "Keep records for the last N days")
		cleanupCmd.Parse(os.Args[2:])

		db := openDB(cfg, log)
		defer db.Close()

		affected, err := metrics.NewStore(db.SQL).Cleanup(ctx, *days)
		if err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
		fmt.Printf("Successfully removed %d old ingestion records.\n", affected)

	case "issue-token":
		tokenCmd := flag.NewFlagSet("issue-token", flag.ExitOnError)
		user := tokenCmd.String("user", "", "User id to issue the token for")
		ttl := tokenCmd.Duration("ttl", 24*time.Hour, "Token lifetime")
		tokenCmd.Parse(os.Args[2:])

		if *user == "" {
			log.Fatal("-user is required")
		}
		token, err := identity.NewJWTVerifier(cfg.AuthSecret, cfg.AuthIssuer).IssueToken(*user, *ttl)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func openDB(cfg *config.Config, log logrus.FieldLogger) *database.DB {
	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	return db
}

func printUsage() {
	fmt.Println("Usage: boardctl <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  migrate            Apply database migrations")
	fmt.Println("  renormalize        Rewrite every stored board in canonical form")
	fmt.Println("  ingestion-report   Daily image ingestion outcomes (-days N)")
	fmt.Println("  metrics-cleanup    Remove old ingestion records (-days N)")
	fmt.Println("  issue-token        Issue a bearer token (-user ID [-ttl 24h])")
}
