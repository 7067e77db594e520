// Deploy-time check that the Supabase audit tables are reachable and accept
// writes in the shape the engine produces.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/trustengine/backend/internal/audit"
	"github.com/trustengine/backend/internal/core"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	fmt.Println("Trust Engine - Audit Table Verification")
	fmt.Println("=======================================")
	fmt.Println()

	store, err := audit.NewSupabaseStore()
	if err != nil {
		log.Fatalf("Failed to create Supabase client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Print("Reachability check... ")
	if err := store.VerifyTables(ctx); err != nil {
		log.Fatalf("FAIL: %v", err)
	}
	fmt.Println("OK")

	probe := uuid.New().String()

	fmt.Print("TelemetryData insert... ")
	err = store.InsertTelemetry(ctx, &audit.TelemetryRecord{
		SessionID:  "verify_" + probe,
		SubjectID:  "verify-tables",
		EventType:  "table_verification",
		Features:   map[string]float64{"Flow Duration": 1.0},
		ObservedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Fatalf("FAIL: %v", err)
	}
	fmt.Println("OK")

	fmt.Print("TrustScore insert... ")
	err = store.InsertTrustScore(ctx, &audit.TrustScoreRecord{
		SessionID:      "verify_" + probe,
		SubjectID:      "verify-tables",
		Score:          85,
		AdaptiveScore:  85,
		ThreatCategory: string(core.CategoryUnknown),
		RiskLevel:      1,
		MfaLevel:       core.LevelPasswordOnly.String(),
		AccessGranted:  true,
		Reasoning:      []string{"High base trust score"},
		EvaluatedAt:    time.Now().UTC(),
	})
	if err != nil {
		log.Fatalf("FAIL: %v", err)
	}
	fmt.Println("OK")

	fmt.Print("TrustScore readback... ")
	records, err := store.RecentTrustScores(ctx, "verify_"+probe, 1)
	if err != nil {
		log.Fatalf("FAIL: %v", err)
	}
	if len(records) == 0 {
		log.Fatal("FAIL: inserted record not found")
	}
	fmt.Println("OK")

	fmt.Println()
	fmt.Println("All audit tables verified.")
}
