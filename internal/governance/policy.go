package governance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of an operation to be evaluated.
type Request struct {
	Operation OperationType
	Detail    string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect    Effect
	Reason    string
	Required  Level
	Current   Level
	RiskScore int
}

func (r Result) Allowed() bool {
	return r.Effect == EffectAllow
}

// PolicyEngine evaluates side-effecting operations against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultDenyPatterns block destructive commands at every tier.
var DefaultDenyPatterns = []string{
	`rm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*[rR][a-zA-Z]*\s+(-[a-zA-Z]*\s+)*(/|/\*|~|\$HOME)(\s|$|;|&|\|)`,
	`rm\s+(-[a-zA-Z]*\s+)*--no-preserve-root`,
	`\bmkfs(\.[a-z0-9]+)?\b`,
	`\bdd\s+.*if=/dev/(zero|random|urandom)`,
	`\bdd\s+.*of=/dev/(sd|hd|nvme|xvd|vd|mmcblk|disk)`,
	`>\s*/dev/(sd|hd|nvme|xvd|vd|mmcblk|disk)`,
	`\bshred\s+.*/dev/`,
	`\bwipefs\b`,
	`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`,
	`chmod\s+(-[a-zA-Z]*\s+)*-R\s+[0-7]{3,4}\s+/(\s|$)`,
	`\b(shutdown|reboot|halt|poweroff)\b`,
}

var ErrInvalidAdminToken = errors.New("invalid admin token")

// Gate is the permission gate consulted before every side-effecting operation.
// The deny-list is checked first and cannot be overridden by any tier.
type Gate struct {
	mu         sync.RWMutex
	level      Level
	deniedOps  map[OperationType]bool
	deniedExpr []*regexp.Regexp
	audit      AuditSink
	scorer     *RiskScorer
	adminToken string
	now        func() time.Time
}

func NewGate(level Level, audit AuditSink) *Gate {
	return &Gate{
		level:      level,
		deniedOps:  make(map[OperationType]bool),
		deniedExpr: make([]*regexp.Regexp, 0),
		audit:      audit,
		scorer:     NewRiskScorer(),
		now:        time.Now,
	}
}

// NewDefaultGate returns a gate preloaded with DefaultDenyPatterns.
func NewDefaultGate(level Level, audit AuditSink) *Gate {
	g := NewGate(level, audit)
	for _, p := range DefaultDenyPatterns {
		_ = g.DenyPattern(p)
	}
	return g
}

func (g *Gate) DenyOperation(op OperationType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deniedOps[op] = true
}

func (g *Gate) DenyPattern(pattern string) error {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deniedExpr = append(g.deniedExpr, re)
	return nil
}

func (g *Gate) SetAdminToken(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adminToken = token
}

func (g *Gate) Level() Level {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.level
}

// SetLevel changes the current tier. Raising the tier requires the admin
// token; lowering it never does.
func (g *Gate) SetLevel(level Level, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if level > g.level && (g.adminToken == "" || token != g.adminToken) {
		return ErrInvalidAdminToken
	}
	log.Printf("[Gate] Permission level changed %s -> %s", g.level, level)
	g.level = level
	return nil
}

func (g *Gate) Scorer() *RiskScorer {
	return g.scorer
}

func (g *Gate) Evaluate(ctx context.Context, req Request) (Result, error) {
	g.mu.RLock()
	current := g.level
	denied := g.deniedOps[req.Operation]
	exprs := g.deniedExpr
	g.mu.RUnlock()

	res := Result{
		Required:  RequiredLevel(req.Operation),
		Current:   current,
		RiskScore: g.scorer.Score(req.Detail),
	}

	blocked := matchAny(exprs, req.Detail)

	switch {
	case blocked != nil:
		res.Effect = EffectDeny
		res.Reason = fmt.Sprintf("Detail matches restricted pattern: %s", blocked.String())
	case denied:
		res.Effect = EffectDeny
		res.Reason = fmt.Sprintf("Operation '%s' is restricted by system policy", req.Operation)
	case current < res.Required:
		res.Effect = EffectDeny
		res.Reason = fmt.Sprintf("Operation '%s' requires %s, current level is %s", req.Operation, res.Required, current)
	default:
		res.Effect = EffectAllow
		res.Reason = "Approved by permission tier"
	}

	g.record(req, res)
	return res, nil
}

// CheckPermission is the boolean form of Evaluate.
func (g *Gate) CheckPermission(ctx context.Context, op OperationType, detail string) bool {
	res, err := g.Evaluate(ctx, Request{Operation: op, Detail: detail})
	return err == nil && res.Allowed()
}

func (g *Gate) record(req Request, res Result) {
	if g.audit == nil {
		return
	}
	outcome := "allowed"
	if !res.Allowed() {
		outcome = "denied: " + res.Reason
	}
	rec := AuditRecord{
		Timestamp: g.now(),
		Operation: string(req.Operation),
		Detail:    req.Detail,
		Outcome:   outcome,
	}
	if err := g.audit.Append(rec); err != nil {
		log.Printf("[Gate] Failed to write audit record: %v", err)
	}
}

func matchAny(exprs []*regexp.Regexp, s string) *regexp.Regexp {
	for _, re := range exprs {
		if re.MatchString(s) {
			return re
		}
	}
	return nil
}
