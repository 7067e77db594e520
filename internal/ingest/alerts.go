package ingest

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/trustengine/backend/internal/core"
	"github.com/trustengine/backend/internal/features"
)

// Alert is one simulated SIEM alert in the shape the engine would receive
// from a real deployment.
type Alert struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	AgentID     string    `json:"agent_id"`
	AgentName   string    `json:"agent_name"`
	RuleID      string    `json:"rule_id"`
	RuleLevel   int       `json:"rule_level"`
	Description string    `json:"rule_description"`
	FullLog     string    `json:"full_log"`
	Location    string    `json:"location"`
}

// alertTemplate is one canned alert kind with its expected classification.
type alertTemplate struct {
	ruleID      string
	ruleLevel   int
	description string
	fullLog     string
}

// alertCatalog mirrors the alert kinds a small SIEM ruleset produces, from
// SSH brute-force noise up to privilege escalation.
var alertCatalog = []alertTemplate{
	{
		ruleID:      "100001",
		ruleLevel:   5,
		description: "SSH authentication failure",
		fullLog:     "sshd[1234]: Failed password for user admin from 192.168.1.50",
	},
	{
		ruleID:      "100002",
		ruleLevel:   7,
		description: "Multiple failed SSH login attempts",
		fullLog:     "sshd[1234]: Failed password for user root from 192.168.1.51 port 22",
	},
	{
		ruleID:      "100003",
		ruleLevel:   4,
		description: "File modification detected",
		fullLog:     `auditd[567]: SYSCALL comm="touch" exe="/usr/bin/touch" key="file_modification"`,
	},
	{
		ruleID:      "100004",
		ruleLevel:   6,
		description: "Suspicious network connection",
		fullLog:     "kernel: [UFW BLOCK] IN=eth0 SRC=192.168.1.200 DST=192.168.1.100 PROTO=TCP SPT=12345 DPT=22 SYN",
	},
	{
		ruleID:      "100005",
		ruleLevel:   8,
		description: "Privilege escalation attempt",
		fullLog:     "sudo: pam_unix(sudo:auth): authentication failure; logname=admin uid=1000 euid=0 user=admin",
	},
	{
		ruleID:      "100006",
		ruleLevel:   3,
		description: "System resource exhaustion",
		fullLog:     "kernel: Out of memory: Kill process 1234 (apache2) score 0 or sacrifice child",
	},
}

var agentNames = []string{"siem-agent-ubuntu", "siem-agent-centos"}

// SimulatedAlertSource produces canned SIEM alerts and converts them into
// telemetry samples the engine can evaluate.
type SimulatedAlertSource struct {
	mu     sync.Mutex
	rng    *rand.Rand
	nextID int
}

// NewSimulatedAlertSource creates an alert source seeded from the clock.
func NewSimulatedAlertSource() *SimulatedAlertSource {
	return NewSeededAlertSource(time.Now().UnixNano())
}

// NewSeededAlertSource creates a reproducible alert source.
func NewSeededAlertSource(seed int64) *SimulatedAlertSource {
	return &SimulatedAlertSource{rng: rand.New(rand.NewSource(seed)), nextID: 1000}
}

// Alerts generates up to limit simulated alerts for the given agent. An
// empty agentID selects the default agent.
func (s *SimulatedAlertSource) Alerts(agentID string, limit int) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	if agentID == "" {
		agentID = "001"
	}

	alerts := make([]Alert, 0, limit)
	for i := 0; i < limit; i++ {
		tmpl := alertCatalog[s.rng.Intn(len(alertCatalog))]
		s.nextID++
		alerts = append(alerts, Alert{
			ID:          fmt.Sprintf("%d", s.nextID),
			Timestamp:   time.Now().UTC().Add(-time.Duration(1+s.rng.Intn(60)) * time.Minute),
			AgentID:     agentID,
			AgentName:   agentNames[s.rng.Intn(len(agentNames))],
			RuleID:      tmpl.ruleID,
			RuleLevel:   tmpl.ruleLevel,
			Description: tmpl.description,
			FullLog:     tmpl.fullLog,
			Location:    "/var/log/auth.log",
		})
	}
	return alerts
}

// ToTelemetry converts an alert into a telemetry sample. The feature values
// are synthesized from the alert content so the classifier sees plausible
// network shapes: higher rule levels produce more aggressive flag counts.
func (s *SimulatedAlertSource) ToTelemetry(alert Alert) core.TelemetrySample {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := strings.ToLower(alert.FullLog)
	fields := make(map[string]float64, len(features.CanonicalNames))

	fields["Flow Duration"] = 0.1 + s.rng.Float64()*1.9

	if strings.Contains(log, "packet") || strings.Contains(log, "tcp") {
		fields["Total Fwd Packets"] = float64(5 + s.rng.Intn(46))
		fields["Total Backward Packets"] = float64(3 + s.rng.Intn(23))
	} else {
		fields["Total Fwd Packets"] = 1
		fields["Total Backward Packets"] = 1
	}
	fields["Total Length of Fwd Packets"] = fields["Total Fwd Packets"] * float64(32+s.rng.Intn(1469))
	fields["Total Length of Bwd Packets"] = fields["Total Backward Packets"] * float64(32+s.rng.Intn(1469))

	fields["Flow Bytes/s"] = float64(500 + s.rng.Intn(4501))
	fields["Flow Packets/s"] = float64(5 + s.rng.Intn(46))
	fields["Flow IAT Mean"] = 0.01 + s.rng.Float64()*0.49
	fields["Flow IAT Std"] = 0.005 + s.rng.Float64()*0.095
	fields["Flow IAT Max"] = 0.1 + s.rng.Float64()*0.9
	fields["Flow IAT Min"] = 0.001 + s.rng.Float64()*0.049

	switch {
	case alert.RuleLevel > 5:
		fields["SYN Flag Count"] = 1
		fields["ACK Flag Count"] = 1
		fields["RST Flag Count"] = 1
	case alert.RuleLevel > 3:
		fields["SYN Flag Count"] = 1
		fields["ACK Flag Count"] = 1
		fields["RST Flag Count"] = 0
	default:
		fields["SYN Flag Count"] = 0
		fields["ACK Flag Count"] = 0
		fields["RST Flag Count"] = 0
	}

	if strings.Contains(log, "ssh") || strings.Contains(log, "brute") {
		fields["PSH Flag Count"] = 1
	} else {
		fields["PSH Flag Count"] = 0
	}
	fields["URG Flag Count"] = 0

	for _, name := range features.CanonicalNames {
		if _, ok := fields[name]; ok {
			continue
		}
		switch {
		case strings.Contains(name, "Length") || strings.Contains(name, "Size"):
			fields[name] = float64(32 + s.rng.Intn(1469))
		case strings.Contains(name, "Count") || strings.Contains(name, "Flags"):
			fields[name] = float64(s.rng.Intn(6))
		case strings.Contains(name, "Ratio"):
			fields[name] = 0.1 + s.rng.Float64()*9.9
		case strings.Contains(name, "Rate") || strings.Contains(name, "Packets/s"):
			fields[name] = float64(1 + s.rng.Intn(100))
		default:
			fields[name] = float64(s.rng.Intn(1001))
		}
	}

	eventType := "siem_alert"
	if strings.Contains(log, "failed password") {
		eventType = "login_failed"
	}

	return core.TelemetrySample{
		SessionID:  fmt.Sprintf("siem_%s", alert.ID),
		SubjectID:  fmt.Sprintf("agent_%s", alert.AgentID),
		EventType:  eventType,
		ObservedAt: alert.Timestamp,
		Fields:     fields,
	}
}
