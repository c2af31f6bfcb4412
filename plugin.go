package wskit

// Plugin folds extra, router-specific behavior into every Context built
// by the router. The three always-present bundles — Messaging, RPC, Pub/Sub —
// are implemented directly as Context methods because every handler
// needs them; Plugin exists for additional, application-specific
// extensions (e.g. a metrics recorder, a tracing span factory) that a
// program wants threaded through Context.Extensions.
type Plugin interface {
	// Name identifies this plugin's slot in Context.Extensions.
	Name() string
	// Install is called once per Context at build time. prior is the
	// value a same-named plugin registered earlier left behind (nil on
	// first install), enabling the decorator pattern: a later plugin can
	// wrap or read an earlier one's contribution before returning its
	// own.
	Install(ctx *Context, prior any) any
}

// PluginFunc adapts a plain function to the Plugin interface for
// stateless extensions.
type PluginFunc struct {
	PluginName string
	InstallFn  func(ctx *Context, prior any) any
}

func (p PluginFunc) Name() string { return p.PluginName }

func (p PluginFunc) Install(ctx *Context, prior any) any { return p.InstallFn(ctx, prior) }

var _ Plugin = PluginFunc{}
