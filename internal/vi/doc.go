// Package vi reacts to volatility interruption events by cascading trade
// tick subscriptions. When a VI activates on a symbol the controller
// subscribes that symbol's trade channel; when the VI releases it keeps the
// subscription alive for a grace period before unsubscribing, so the
// post-release price action is still captured. A reactivation during the
// grace period cancels the pending unsubscribe.
package vi
