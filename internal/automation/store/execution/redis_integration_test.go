//go:build integration

package execution

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"taskgate/pkg/testutil/containers"
)

func TestRedisClaimSuite(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	suite.Run(t, &ClaimSuite{newStore: func() store { return NewRedis(rc.Client, 0) }})
}
