package domain

import m "taintaudit.dev/pkg/taintaudit/internal/model"

// Sink categories.
const (
	CategoryExec         = "exec"
	CategoryEval         = "eval"
	CategoryTemplate     = "template"
	CategorySQL          = "sql"
	CategoryDeser        = "deser"
	CategoryFileWrite    = "file_write"
	CategoryNetwork      = "network"
	CategoryMemory       = "memory"
	CategoryDangerousCfg = "dangerous_cfg"
)

func sourceRule(id, category, title, pattern string) m.RuleSpec {
	return m.RuleSpec{ID: id, Family: m.FamilySource, Category: category, Title: title, TaintKind: m.KindAny, Pattern: pattern}
}

func sinkRule(id, category, title string, kind m.TaintKind, sev m.Severity, pattern string) m.RuleSpec {
	return m.RuleSpec{ID: id, Family: m.FamilySink, Category: category, Title: title, TaintKind: kind, Severity: sev, Pattern: pattern}
}

func sanitizerRule(id, category, title string, kind m.TaintKind, pattern string) m.RuleSpec {
	return m.RuleSpec{ID: id, Family: m.FamilySanitizer, Category: category, Title: title, TaintKind: kind, Pattern: pattern}
}

func guardRule(id, category, title, pattern string) m.RuleSpec {
	return m.RuleSpec{ID: id, Family: m.FamilyGuard, Category: category, Title: title, TaintKind: m.KindAny, Pattern: pattern}
}

// DefaultRuleSpecs returns the built-in rules. All patterns are matched
// case-insensitively against a single line.
func DefaultRuleSpecs() []m.RuleSpec {
	return []m.RuleSpec{
		sourceRule("src-main", "main", "program entry point",
			`if\s+__name__\s*==\s*['"]__main__['"]|\bfunc\s+main\s*\(|\bpublic\s+static\s+void\s+main\s*\(|\bfn\s+main\s*\(`),
		sourceRule("src-http", "http", "HTTP handler or request input",
			`\b(request\.(args|form|json|get_json|values|files|cookies|headers|query)|ctx\.(query|postform|bind\w*|param)|req\.(query|body|params|url|form)|r\.(formvalue|url\.query)|params\[|query\[)|\b(router|app)\.(get|post|put|patch|delete|all)\s*\(|@(get|post|put|patch|delete|request)mapping\b|\bhttp\.handle(func)?\s*\(`),
		sourceRule("src-rpc", "rpc", "RPC service input",
			`\b(grpc\.newserver\s*\(|register\w*server\s*\(|rpc\.register\s*\(|rpc\.call\b|thrift\b|@grpcservice\b)`),
		sourceRule("src-mq", "mq", "message queue consumer",
			`\b(subscribe|consume|on_message|onmessage|rabbitlistener|kafkalistener)\b|\bkafka\.(consumer|reader)\b`),
		sourceRule("src-cli", "cli", "command line input",
			`\b(argparse\.argumentparser|sys\.argv|process\.argv|os\.args\b|click\.(command|option|argument)|cobra\.command|flag\.(string|int|bool|arg)\w*\s*\(|commander\.)`),
		sourceRule("src-env", "env_cfg", "environment or configuration input",
			`\b(os\.environ|getenv\s*\(|process\.env|dotenv|viper\.get\w*\s*\(|config\.(get|load)\s*\()`),
		sourceRule("src-file", "file_parse", "file content input",
			`\b(readfile(sync)?\s*\(|read_to_string\s*\(|read_text\s*\(|read_bytes\s*\(|json\.loads?\s*\(|yaml\.safe_load\s*\(|xml\.(parse|unmarshal)\w*\s*\()`),
		sourceRule("src-deser", "deser_input", "serialized object input",
			`\b(pickle\.loads?\s*\(|yaml\.load\s*\(|objectinputstream|binaryformatter|gob\.newdecoder)`),

		sinkRule("sink-exec", CategoryExec, "command execution / process spawn", m.KindCmd, m.SeverityHigh,
			`\b(os\.system|popen\s*\(|subprocess\.(run|popen|call|check_output|check_call)|execve?\s*\(|runtime\.getruntime\(\)\.exec|exec\.command(context)?\s*\(|child_process)`),
		sinkRule("sink-eval", CategoryEval, "dynamic code evaluation", m.KindCmd, m.SeverityHigh,
			`\b(eval\s*\(|new\s+function\s*\(|vm\.runin\w+\s*\(|scriptenginemanager\b)|(?:^|[^.\w])exec\s*\(`),
		sinkRule("sink-template", CategoryTemplate, "template rendering", m.KindTemplate, m.SeverityMedium,
			`\b(render_template_string|jinja2\.template|mustache\.render|handlebars\.compile|template\.execute\w*|thymeleaf|freemarker)\b`),
		sinkRule("sink-sql", CategorySQL, "raw SQL execution", m.KindQuery, m.SeverityHigh,
			`\b(cursor\.execute|db\.query\w*|db\.exec\w*|sequelize\.query|createnativequery|statement\.execute(query)?|raw\s*\()`),
		sinkRule("sink-deser", CategoryDeser, "deserialization", m.KindDeser, m.SeverityHigh,
			`\b(pickle\.loads|yaml\.load\s*\(|objectinputstream|binaryformatter|gob\.newdecoder|serde_json::from_(str|slice)|jsonpickle\.decode)`),
		sinkRule("sink-file-write", CategoryFileWrite, "file write / path join", m.KindPath, m.SeverityMedium,
			`\b(fs\.writefile\w*|ioutil\.writefile|os\.writefile|files\.write|fileoutputstream|os\.path\.join|path\.join|filepath\.join)\b|\bopen\s*\([^)]*["'][wa]b?\+?["']`),
		sinkRule("sink-network", CategoryNetwork, "outbound network request", m.KindSSRF, m.SeverityMedium,
			`\b(requests\.(get|post|put|delete|patch)|httpx\.(get|post)|axios\.(get|post)|fetch\s*\(|http\.(get|post|do)\b|urllib\.request\.|net\.dial|grpc\.dial)`),
		sinkRule("sink-memory", CategoryMemory, "memory bounds / format string", m.KindMemory, m.SeverityHigh,
			`(?:^|[^.\w])(strcpy|strcat|sprintf|vsprintf|gets)\s*\(|\b(memcpy\s*\([^,]+,[^,]+,[^)]+\)|unsafe\.pointer)`),
		sinkRule("sink-dangerous-cfg", CategoryDangerousCfg, "dangerous configuration", m.KindAuthz, m.SeverityMedium,
			`\b(verify\s*=\s*false|insecureskipverify\s*:\s*true|allow_origins\s*=\s*\[?['"]\*['"]\]?|disable_auth|skip_auth|permitall\s*\()`),

		sanitizerRule("san-escape", "escape", "escaping / validation", m.KindAny,
			`\b(escape\w*|sanitize\w*|validate\w*|clean\w*|safe_\w+|quote|shlex\.quote|encodeuricomponent|html\.escapestring|xss\.escape)\b`),
		sanitizerRule("san-path", "path_normalize", "path normalization", m.KindPath,
			`\b(realpath|normpath|abspath|filepath\.clean|path\.normalize|canonicalize|secure_filename)\b`),
		sanitizerRule("san-query", "parameterized", "parameterized query", m.KindQuery,
			`\b(preparedstatement|parameterized|bindparam|querybuilder|placeholder)\b|\bprepare\s*\(`),
		sanitizerRule("san-template", "autoescape", "template auto-escaping", m.KindTemplate,
			`\b(autoescape|markupsafe|bleach\.clean|template\.htmlescape\w*)\b`),
		sanitizerRule("san-allowlist", "allowlist", "allowlist / pattern check", m.KindAny,
			`\b(allowlist|whitelist|allowed_\w+|regex)\b`),

		guardRule("guard-authz", "authz_check", "authorization branch",
			`\bif\s+.*(auth|authorize|permission|permit|role|tenant|owner|rbac|abac)|\bcheck\w*\s*\(|\brequire\w*\s*\(`),
		guardRule("guard-assert", "assertion", "deny / assertion",
			`\b(assert|deny|forbid|is_admin|is_owner|has_role)\b|\babort\s*\(\s*40[13]`),
		guardRule("guard-tenant", "tenant_binding", "tenant / owner binding",
			`\b(tenant_id|org_id|owner_id|account_id)\b`),
	}
}

// kindCWE maps taint kinds to their closest CWE.
var kindCWE = map[m.TaintKind]string{
	m.KindCmd:      "CWE-78",
	m.KindPath:     "CWE-22",
	m.KindQuery:    "CWE-89",
	m.KindTemplate: "CWE-1336",
	m.KindSSRF:     "CWE-918",
	m.KindDeser:    "CWE-502",
	m.KindMemory:   "CWE-120",
	m.KindAuthz:    "CWE-285",
}

var kindImpact = map[m.TaintKind]string{
	m.KindCmd:      "attacker-influenced data may reach process execution or dynamic evaluation, leading to remote code execution",
	m.KindPath:     "attacker-influenced paths may read or overwrite files outside the intended directory",
	m.KindQuery:    "attacker-influenced data may alter SQL statements, exposing or corrupting stored data",
	m.KindTemplate: "attacker-influenced templates may lead to server-side template injection or XSS",
	m.KindSSRF:     "attacker-influenced destinations may let the service reach internal networks or metadata endpoints",
	m.KindDeser:    "attacker-influenced serialized objects may trigger gadget chains and code execution",
	m.KindMemory:   "attacker-influenced sizes or formats may corrupt memory",
	m.KindAuthz:    "weakened verification or authorization may expose privileged operations",
}

var kindFixHint = map[m.TaintKind]string{
	m.KindCmd:      "avoid shells; pass argument vectors and validate against an allowlist",
	m.KindPath:     "resolve and clean the path, then verify it stays under an allowed base directory",
	m.KindQuery:    "use parameterized queries or a query builder instead of string concatenation",
	m.KindTemplate: "render fixed templates with auto-escaping and pass user data only as values",
	m.KindSSRF:     "restrict destinations to an allowlist and block internal address ranges",
	m.KindDeser:    "use data-only formats or restrict the types the decoder may instantiate",
	m.KindMemory:   "use bounded copy functions and validate lengths before copying",
	m.KindAuthz:    "keep verification enabled and bind every sensitive operation to an authorization check",
}
