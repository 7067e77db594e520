// Demo client that walks one session through the whole step-up flow against
// a running server: post telemetry, read the decision, request a challenge,
// and verify with the issued OTP.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const baseURL = "http://localhost:8080"

func main() {
	sessionID := fmt.Sprintf("demo_session_%d", time.Now().Unix())

	fmt.Println("Session simulation starting:", sessionID)

	// 1. Report a burst of failed logins.
	fmt.Println("\n--> Posting login_failed telemetry...")
	features := map[string]float64{
		"Flow Duration":          1.2,
		"Total Fwd Packets":      18,
		"Total Backward Packets": 9,
		"Flow Bytes/s":           2400,
		"SYN Flag Count":         1,
		"PSH Flag Count":         1,
	}
	decision := post("/telemetry", map[string]interface{}{
		"session_id": sessionID,
		"subject_id": "demo_user",
		"event_type": "login_failed",
		"features":   features,
	})
	fmt.Printf("    mfa_level=%v adaptive_score=%v\n",
		decision["mfa_level_name"], decision["adaptive_trust_score"])

	if decision["mfa_level_name"] == "BLOCKED" {
		fmt.Println("    Session blocked; nothing to verify.")
		return
	}

	// 2. Request the step-up challenge.
	fmt.Println("\n--> Requesting MFA challenge...")
	challenge := post("/mfa/challenge", map[string]interface{}{"session_id": sessionID})
	otp, _ := challenge["otp"].(string)
	fmt.Printf("    challenge_id=%v otp=%s\n", challenge["challenge_id"], otp)

	// 3. Verify with the issued OTP.
	fmt.Println("\n--> Verifying factors...")
	result := post("/mfa/verify", map[string]interface{}{
		"session_id":         sessionID,
		"otp":                otp,
		"device_fingerprint": "demo-device-fp-0123456789",
	})
	fmt.Printf("    access_granted=%v\n", result["access_granted"])

	// 4. Show the final session state.
	fmt.Println("\n--> Session state:")
	state := get("/sessions/" + sessionID)
	fmt.Printf("    phase=%v verified=%v\n", state["phase"], state["verified"])
}

func post(path string, body map[string]interface{}) map[string]interface{} {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", path, err)
	}
	resp, err := http.Post(baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	return decode(path, resp)
}

func get(path string) map[string]interface{} {
	resp, err := http.Get(baseURL + path)
	if err != nil {
		log.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	return decode(path, resp)
}

func decode(path string, resp *http.Response) map[string]interface{} {
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("decode %s: %v", path, err)
	}
	if resp.StatusCode >= 400 {
		log.Fatalf("%s returned %d: %v", path, resp.StatusCode, out["error"])
	}
	return out
}
