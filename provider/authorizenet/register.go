package authorizenet

import "github.com/commercekit/paygate/provider"

func init() {
	provider.Register("authorizenet", NewProvider)
}
