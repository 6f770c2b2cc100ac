package stripe

import "github.com/commercekit/paygate/provider"

func init() {
	provider.Register("stripe", NewProvider)
}
