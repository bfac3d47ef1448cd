// Package market maintains the symbol master: the mapping from KRX short
// codes to their listing venue, loaded from the t8430 TR and refreshed in
// the background. The VI controller consults it to pick the trade channel
// (S3_ or K3_) for each symbol.
package market
