package paypal

import "github.com/commercekit/paygate/provider"

func init() {
	provider.Register("paypal", NewProvider)
}
