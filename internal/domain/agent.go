package domain

// AgentID names a virtual support agent (rule set or LLM persona).
type AgentID string

const (
	AgentSupport             AgentID = "support-agent"
	AgentUIDebug             AgentID = "ui-debug-agent"
	AgentEscalation          AgentID = "escalation-agent"
	AgentErrorHandler        AgentID = "error-handler-agent"
	AgentAutopatch           AgentID = "autopatch-agent"
	AgentSupabaseAnalyst     AgentID = "supabase-analyst-agent"
	AgentHetznerOps          AgentID = "hetzner-ops-agent"
	AgentFrontendDiagnostics AgentID = "frontend-diagnostics-agent"
	AgentAutopatchArchitect  AgentID = "autopatch-architect-agent"
)

// Tier2Order is the fixed order in which tier-2 specialists run.
var Tier2Order = []AgentID{
	AgentSupabaseAnalyst,
	AgentHetznerOps,
	AgentFrontendDiagnostics,
	AgentAutopatchArchitect,
}
