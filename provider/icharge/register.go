package icharge

import "github.com/commercekit/paygate/provider"

func init() {
	provider.Register("icharge", NewProvider)
}
