package alertx

// SendOptions holds optional configuration for a single delivery.
type SendOptions struct {
	Tags     map[string]string
	Template string
}

// Option is a functional option for send operations.
type Option func(*SendOptions)

// WithTags adds metadata tags to the delivery.
func WithTags(tags map[string]string) Option {
	return func(o *SendOptions) {
		o.Tags = tags
	}
}

// WithTemplate selects a registered body template for providers that render
// one (email).
func WithTemplate(name string) Option {
	return func(o *SendOptions) {
		o.Template = name
	}
}

func applySendOptions(opts []Option) SendOptions {
	var so SendOptions
	for _, o := range opts {
		o(&so)
	}
	return so
}
