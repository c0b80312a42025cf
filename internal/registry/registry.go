// Package registry implements the static method catalog (spec.md §4.1),
// ported from the method table in
// original_source/src/application/services/rpc/method_registry.rs with the
// duplicated registrations the original carried across layers collapsed
// into this single source of truth.
package registry

import (
	"sync"
)

// ParameterType enumerates the JSON types a parameter rule accepts.
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeNumber  ParameterType = "number"
	TypeInteger ParameterType = "integer"
	TypeFloat   ParameterType = "float"
	TypeBoolean ParameterType = "boolean"
	TypeObject  ParameterType = "object"
	TypeArray   ParameterType = "array"
	TypeAny     ParameterType = "any"
)

// ConstraintKind tags the variant carried by a Constraint.
type ConstraintKind int

const (
	MinLength ConstraintKind = iota
	MaxLength
	MinValue
	MaxValue
	Pattern
	Enum
	Custom
)

// Custom constraint identifiers used by the validator.
const (
	CustomHexString    = "hex_string"
	CustomBase58String = "base58_string"
	CustomBlockHash    = "block_hash"
)

// Constraint is a tagged union over the constraint kinds a ParameterRule may
// carry. Only the field matching Kind is meaningful.
type Constraint struct {
	Kind       ConstraintKind
	IntValue   int
	FloatValue float64
	StrValue   string
	EnumValues []string
}

func MinLen(n int) Constraint      { return Constraint{Kind: MinLength, IntValue: n} }
func MaxLen(n int) Constraint      { return Constraint{Kind: MaxLength, IntValue: n} }
func MinVal(x float64) Constraint  { return Constraint{Kind: MinValue, FloatValue: x} }
func MaxVal(x float64) Constraint  { return Constraint{Kind: MaxValue, FloatValue: x} }
func Rx(expr string) Constraint    { return Constraint{Kind: Pattern, StrValue: expr} }
func OneOf(vals ...string) Constraint { return Constraint{Kind: Enum, EnumValues: vals} }
func CustomRule(id string) Constraint { return Constraint{Kind: Custom, StrValue: id} }

// ParameterRule describes one positional/keyed parameter of a method.
type ParameterRule struct {
	Index       int
	Name        string
	Type        ParameterType
	Required    bool
	Constraints []Constraint
	Default     interface{}
}

// SecurityLevel classifies how sensitive a method's effects are.
type SecurityLevel string

const (
	SecurityLow    SecurityLevel = "low"
	SecurityMedium SecurityLevel = "medium"
	SecurityHigh   SecurityLevel = "high"
)

// MethodDefinition is an immutable catalog entry. Once constructed by the
// Registry, its fields must never be mutated by callers.
type MethodDefinition struct {
	Name                string
	Description         string
	ReadOnly            bool
	RequiredPermissions map[string]struct{}
	ParameterRules      []ParameterRule
	SecurityLevel       SecurityLevel
	Enabled             bool
}

// HasPermission reports whether perm is in the method's required set.
func (m *MethodDefinition) HasPermission(perm string) bool {
	_, ok := m.RequiredPermissions[perm]
	return ok
}

// Registry is the read-only catalog of every method the gateway will
// forward upstream. It is populated once at construction and never mutated
// afterward, so lookups require no locking.
type Registry struct {
	methods map[string]*MethodDefinition
}

func perms(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// New builds the registry with the gateway's fixed method catalog.
//
// Cacheable, read-only methods are drawn from spec.md §4.5's whitelist;
// security levels are assigned per spec.md §4.3 based on blast radius:
// spending-key export/import, raw broadcast and z_sendmany are "high";
// viewing-key export/import, coinbase shielding and offers are "medium";
// everything else "low".
func New() *Registry {
	r := &Registry{methods: make(map[string]*MethodDefinition)}
	for _, m := range builtinMethods() {
		def := m
		r.methods[def.Name] = &def
	}
	return r
}

// Get returns the definition for method, or nil if it is not registered.
func (r *Registry) Get(method string) *MethodDefinition {
	return r.methods[method]
}

// Allowed reports whether method is both present and enabled.
func (r *Registry) Allowed(method string) bool {
	def := r.methods[method]
	return def != nil && def.Enabled
}

// Cacheable reports whether method's responses may be cached: it must be
// registered, read-only, and on the explicit whitelist below.
func (r *Registry) Cacheable(method string) bool {
	def := r.methods[method]
	if def == nil || !def.ReadOnly {
		return false
	}
	_, ok := cacheableMethods[method]
	return ok
}

// Fallbackable reports whether method is a purely informational call
// eligible for degraded-response synthesis when the upstream is down.
func (r *Registry) Fallbackable(method string) bool {
	_, ok := fallbackMethods[method]
	return ok
}

// Methods returns every registered method name. Callers must not mutate the
// returned slice's backing definitions.
func (r *Registry) Methods() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	return names
}

var cacheableMethods = map[string]struct{}{
	"getinfo":           {},
	"getblock":          {},
	"getblockcount":     {},
	"getdifficulty":     {},
	"getrawtransaction": {},
	"getblockhash":      {},
	"getblockheader":    {},
	"getmempoolinfo":    {},
	"getnetworkinfo":    {},
	"getpeerinfo":       {},
}

var fallbackMethods = map[string]struct{}{
	"getinfo":           {},
	"getblockchaininfo": {},
	"getnetworkinfo":    {},
	"getwalletinfo":     {},
}

var once sync.Once
var shared *Registry

// Shared returns a process-wide Registry instance, built once lazily.
// Prefer constructing a Registry explicitly with New() and passing it by
// handle; Shared exists for call sites (tests, one-off tools) that only
// need read access to the catalog.
func Shared() *Registry {
	once.Do(func() { shared = New() })
	return shared
}

func builtinMethods() []MethodDefinition {
	return []MethodDefinition{
		{
			Name: "getinfo", Description: "Get blockchain information",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
		},
		{
			Name: "getblockchaininfo", Description: "Get blockchain sync state",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
		},
		{
			Name: "getnetworkinfo", Description: "Get network information",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
		},
		{
			Name: "getwalletinfo", Description: "Get wallet summary",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
		},
		{
			Name: "getblockcount", Description: "Get current block height",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
		},
		{
			Name: "getdifficulty", Description: "Get current mining difficulty",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
		},
		{
			Name: "getmempoolinfo", Description: "Get mempool summary",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
		},
		{
			Name: "getpeerinfo", Description: "Get connected peer information",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
		},
		{
			Name: "getblockhash", Description: "Get block hash by height",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "height", Type: TypeInteger, Required: true, Constraints: []Constraint{MinVal(0)}},
			},
		},
		{
			Name: "getblockheader", Description: "Get block header",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "hash", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(64), CustomRule(CustomBlockHash)}},
			},
		},
		{
			Name: "getblock", Description: "Get block information",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "hash", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(64), CustomRule(CustomBlockHash)}},
			},
		},
		{
			Name: "getrawtransaction", Description: "Get raw transaction",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "txid", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(64), CustomRule(CustomHexString)}},
				{Index: 1, Name: "verbose", Type: TypeInteger, Required: false, Default: 0},
			},
		},
		{
			Name: "sendrawtransaction", Description: "Broadcast a raw transaction",
			ReadOnly: false, RequiredPermissions: perms("write"),
			SecurityLevel: SecurityHigh, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "hex", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(100), CustomRule(CustomHexString)}},
			},
		},
		{
			Name: "makeOffer", Description: "Create a marketplace offer",
			ReadOnly: false, RequiredPermissions: perms("write"),
			SecurityLevel: SecurityMedium, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "currency", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(1)}},
				{Index: 1, Name: "offer", Type: TypeObject, Required: true},
				{Index: 2, Name: "fromcurrency", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(1)}},
				{Index: 3, Name: "tocurrency", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(1)}},
				{Index: 4, Name: "amount", Type: TypeNumber, Required: true, Constraints: []Constraint{MinVal(0)}},
				{Index: 5, Name: "price", Type: TypeNumber, Required: true, Constraints: []Constraint{MinVal(0)}},
				{Index: 6, Name: "expiry", Type: TypeNumber, Required: false, Constraints: []Constraint{MinVal(0)}},
			},
		},
		{
			Name: "z_getnewaddress", Description: "Get a new shielded address",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "type", Type: TypeString, Required: false, Default: "sapling",
					Constraints: []Constraint{CustomRule("sprout|sapling|orchard")}},
			},
		},
		{
			Name: "z_listaddresses", Description: "List shielded addresses",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
		},
		{
			Name: "z_getbalance", Description: "Get shielded address balance",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "address", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(1)}},
				{Index: 1, Name: "minconf", Type: TypeNumber, Required: false, Constraints: []Constraint{MinVal(0)}},
			},
		},
		{
			Name: "z_sendmany", Description: "Send to multiple shielded addresses",
			ReadOnly: false, RequiredPermissions: perms("write"),
			SecurityLevel: SecurityHigh, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "fromaddress", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(1)}},
				{Index: 1, Name: "amounts", Type: TypeArray, Required: true},
				{Index: 2, Name: "minconf", Type: TypeNumber, Required: false, Constraints: []Constraint{MinVal(0)}},
				{Index: 3, Name: "fee", Type: TypeNumber, Required: false, Constraints: []Constraint{MinVal(0)}},
			},
		},
		{
			Name: "z_shieldcoinbase", Description: "Shield coinbase funds to a Z-address",
			ReadOnly: false, RequiredPermissions: perms("write"),
			SecurityLevel: SecurityMedium, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "fromaddress", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(1)}},
				{Index: 1, Name: "toaddress", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(1)}},
				{Index: 2, Name: "fee", Type: TypeNumber, Required: false, Constraints: []Constraint{MinVal(0)}},
				{Index: 3, Name: "limit", Type: TypeNumber, Required: false, Constraints: []Constraint{MinVal(0)}},
			},
		},
		{
			Name: "z_validateaddress", Description: "Validate a Z-address",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "address", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(1)}},
			},
		},
		{
			Name: "z_viewtransaction", Description: "View shielded transaction details",
			ReadOnly: true, RequiredPermissions: perms("read"),
			SecurityLevel: SecurityLow, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "txid", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(1)}},
			},
		},
		{
			Name: "z_exportkey", Description: "Export a Z-address private key",
			ReadOnly: false, RequiredPermissions: perms("write"),
			SecurityLevel: SecurityHigh, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "address", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(1)}},
			},
		},
		{
			Name: "z_importkey", Description: "Import a Z-address private key",
			ReadOnly: false, RequiredPermissions: perms("write"),
			SecurityLevel: SecurityHigh, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "zkey", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(1)}},
				{Index: 1, Name: "rescan", Type: TypeString, Required: false, Default: "whenkeyisnew",
					Constraints: []Constraint{CustomRule("yes|no|whenkeyisnew")}},
			},
		},
		{
			Name: "z_exportviewingkey", Description: "Export a Z-address viewing key",
			ReadOnly: false, RequiredPermissions: perms("write"),
			SecurityLevel: SecurityMedium, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "address", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(1)}},
			},
		},
		{
			Name: "z_importviewingkey", Description: "Import a Z-address viewing key",
			ReadOnly: false, RequiredPermissions: perms("write"),
			SecurityLevel: SecurityMedium, Enabled: true,
			ParameterRules: []ParameterRule{
				{Index: 0, Name: "vkey", Type: TypeString, Required: true, Constraints: []Constraint{MinLen(1)}},
				{Index: 1, Name: "rescan", Type: TypeString, Required: false, Default: "whenkeyisnew",
					Constraints: []Constraint{CustomRule("yes|no|whenkeyisnew")}},
			},
		},
	}
}
