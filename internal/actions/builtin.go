package actions

// RegisterBuiltins registers all built-in handlers in the given registry.
func RegisterBuiltins(reg *Registry) error {
	all := make([]Handler, 0, 16)

	all = append(all, MessageHandlers()...)
	all = append(all, StringHandlers()...)
	all = append(all, ExprHandlers()...)
	all = append(all, FlowHandlers()...)

	for _, h := range all {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}
