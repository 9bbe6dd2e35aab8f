package backend

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/samelhousseini/gpt-realtime-agents/internal/protocol"
)

// ToolFunc executes one call with already-parsed arguments.
type ToolFunc func(args map[string]any) (map[string]any, error)

// RegisteredTool pairs the schema the model sees with the executor that
// backs it. Adding a tool is one entry here; nothing else changes.
type RegisteredTool struct {
	Definition protocol.Tool
	Run        ToolFunc
}

// ToolRegistry is the telco support toolset served to sessions.
type ToolRegistry struct {
	tools map[string]RegisteredTool
	order []string
}

func NewToolRegistry() *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]RegisteredTool)}
	r.registerDefaults()
	return r
}

func (r *ToolRegistry) register(name, description, paramsJSON string, fn ToolFunc) {
	r.tools[name] = RegisteredTool{
		Definition: protocol.Tool{
			Type:        "function",
			Name:        name,
			Description: description,
			Parameters:  json.RawMessage(paramsJSON),
		},
		Run: fn,
	}
	r.order = append(r.order, name)
}

// Definitions returns the schemas in registration order.
func (r *ToolRegistry) Definitions() []protocol.Tool {
	out := make([]protocol.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Definition)
	}
	return out
}

// Execute parses the argument payload and runs the named tool. Arguments
// may arrive as a JSON object or as a doubly-encoded JSON string.
func (r *ToolRegistry) Execute(name, arguments string) (map[string]any, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name)
	}
	args, err := parseArguments(arguments)
	if err != nil {
		return nil, fmt.Errorf("parse arguments for %q: %w", name, err)
	}
	return tool.Run(args)
}

func parseArguments(arguments string) (map[string]any, error) {
	if arguments == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err == nil {
		return args, nil
	}
	// Some callers double-encode: a JSON string containing a JSON object.
	var nested string
	if err := json.Unmarshal([]byte(arguments), &nested); err != nil {
		return nil, fmt.Errorf("not a JSON object: %s", arguments)
	}
	if nested == "" {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal([]byte(nested), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func futureDate(days int) string {
	return time.Now().AddDate(0, 0, 1+rand.Intn(days)).Format("2006-01-02")
}

func pastDate(days int) string {
	return time.Now().AddDate(0, 0, -(1 + rand.Intn(days))).Format("2006-01-02")
}

func pick(options ...string) string {
	return options[rand.Intn(len(options))]
}

func reference(prefix string) string {
	return fmt.Sprintf("%s-%05d", prefix, 10000+rand.Intn(90000))
}

func dollars(lo, hi float64) string {
	return fmt.Sprintf("$%.2f", lo+rand.Float64()*(hi-lo))
}

const accountIDParams = `{"type":"object","properties":{"account_id":{"type":"string","description":"Customer account identifier."}},"required":["account_id"]}`
const lineNumberParams = `{"type":"object","properties":{"line_number":{"type":"string","description":"Line or service number."}},"required":["line_number"]}`

func (r *ToolRegistry) registerDefaults() {
	r.register("get_billing_info", "Retrieve recent bills, charges, or disputes.", accountIDParams,
		func(args map[string]any) (map[string]any, error) {
			return map[string]any{
				"account_id":       argString(args, "account_id"),
				"statement_period": pick("July 2025", "August 2025", "September 2025"),
				"amount_due":       dollars(45, 95),
				"due_date":         futureDate(12),
				"recent_charges": []map[string]string{
					{"label": "Plan subscription", "amount": dollars(40, 65)},
					{"label": "Taxes & fees", "amount": dollars(6, 12)},
				},
				"status": pick("Paid", "Pending", "Auto-pay scheduled"),
			}, nil
		})

	r.register("check_network_connectivity", "Test or report connectivity issues.", lineNumberParams,
		func(args map[string]any) (map[string]any, error) {
			return map[string]any{
				"line_number":         argString(args, "line_number"),
				"status":              pick("Operational", "Degraded", "Investigating"),
				"latency_ms":          18 + rand.Float64()*67,
				"packet_loss_percent": 0.1 + rand.Float64()*2.3,
				"recommended_action": pick(
					"Power-cycle the modem and retest.",
					"Reset network settings on the device.",
					"Move closer to the router to improve signal.",
				),
			}, nil
		})

	r.register("check_service_outage", "Look up area-wide outages.",
		`{"type":"object","properties":{"postal_code":{"type":"string","description":"Postal code to investigate."}},"required":["postal_code"]}`,
		func(args map[string]any) (map[string]any, error) {
			affected := rand.Intn(2) == 0
			out := map[string]any{
				"postal_code": argString(args, "postal_code"),
				"service":     pick("Mobile", "Home Internet", "Fiber"),
				"impact":      "No widespread issues detected",
			}
			if affected {
				out["impact"] = "Customers may experience slow speeds"
				out["estimated_resolution"] = futureDate(2)
			}
			return out, nil
		})

	r.register("get_account_balance", "Provide balance or data usage.", accountIDParams,
		func(args map[string]any) (map[string]any, error) {
			remaining := 1.5 + rand.Float64()*13.5
			overage := "$0.00"
			if remaining < 2 {
				overage = dollars(10, 45)
			}
			return map[string]any{
				"account_id":             argString(args, "account_id"),
				"billing_cycle_end":      futureDate(9),
				"data_remaining_gb":      remaining,
				"minutes_remaining":      50 + rand.Intn(950),
				"projected_overage_cost": overage,
			}, nil
		})

	r.register("modify_plan", "Change or upgrade/downgrade plans.", lineNumberParams,
		func(args map[string]any) (map[string]any, error) {
			return map[string]any{
				"line_number":    argString(args, "line_number"),
				"previous_plan":  map[string]string{"name": "Starter 20GB", "price": "$59.99"},
				"new_plan":       map[string]string{"name": pick("Unlimited Plus", "Family 50GB"), "price": pick("$89.99", "$74.99")},
				"effective_date": futureDate(3),
				"confirmation":   reference("PLN"),
			}, nil
		})

	r.register("manage_sim", "Activate, replace, or troubleshoot SIM and eSIM.",
		`{"type":"object","properties":{"line_number":{"type":"string","description":"Line or service number."},"needs_puk":{"type":"boolean","description":"Whether a PUK code is needed."}},"required":["line_number"]}`,
		func(args map[string]any) (map[string]any, error) {
			out := map[string]any{
				"line_number":     argString(args, "line_number"),
				"action":          pick("Activated replacement SIM", "Provided PUK code", "Re-synced eSIM profile"),
				"last_activation": pastDate(45),
			}
			if needs, _ := args["needs_puk"].(bool); needs {
				out["puk_code"] = fmt.Sprintf("%08d", 10000000+rand.Intn(89999999))
			}
			return out, nil
		})

	r.register("process_payment", "Take a payment or schedule one.",
		`{"type":"object","properties":{"account_id":{"type":"string","description":"Customer account identifier."},"amount":{"type":"number","description":"Payment amount in dollars."}},"required":["account_id"]}`,
		func(args map[string]any) (map[string]any, error) {
			amount, ok := args["amount"].(float64)
			if !ok {
				amount = 45 + rand.Float64()*155
			}
			return map[string]any{
				"account_id":      argString(args, "account_id"),
				"amount":          fmt.Sprintf("$%.2f", amount),
				"status":          pick("Success", "Pending review", "Scheduled"),
				"confirmation_id": reference("PMT"),
				"processed_at":    time.Now().UTC().Format(time.RFC3339),
			}, nil
		})

	r.register("device_support", "Troubleshoot a handset, router, or hub.",
		`{"type":"object","properties":{"device_model":{"type":"string","description":"Device to troubleshoot."},"issue_type":{"type":"string","description":"Category of the problem."}}}`,
		func(args map[string]any) (map[string]any, error) {
			device := argString(args, "device_model")
			if device == "" {
				device = pick("Contoso Hub X2", "Galaxy S24", "iPhone 15", "Contoso Fiber Router")
			}
			issue := argString(args, "issue_type")
			if issue == "" {
				issue = "general"
			}
			return map[string]any{
				"device_model": device,
				"issue_type":   issue,
				"troubleshooting_steps": []string{
					"Power-cycle the device for 30 seconds.",
					"Ensure the latest firmware is installed.",
					"Reset network settings and reconnect to Wi-Fi.",
				},
				"ticket_id": reference("TCK"),
			}, nil
		})

	r.register("schedule_installation", "Book a technician installation visit.",
		`{"type":"object","properties":{"service_address":{"type":"string","description":"Address for the visit."}},"required":["service_address"]}`,
		func(args map[string]any) (map[string]any, error) {
			return map[string]any{
				"service_address":  argString(args, "service_address"),
				"appointment_date": futureDate(14),
				"time_slot":        pick("08:00-10:00", "10:00-12:00", "13:00-15:00", "15:00-17:00"),
				"technician":       pick("A. Rahman", "L. Chen", "M. Smith", "R. Alvarez"),
				"confirmation":     reference("INST"),
			}, nil
		})

	r.register("manage_roaming", "Enable, disable, or review roaming.", lineNumberParams,
		func(args map[string]any) (map[string]any, error) {
			return map[string]any{
				"line_number":    argString(args, "line_number"),
				"current_status": pick("Enabled", "Disabled", "Temporarily Suspended"),
				"zones_enabled":  []string{pick("North America", "Europe", "Middle East", "Asia Pacific")},
				"next_review":    futureDate(30),
			}, nil
		})
}
