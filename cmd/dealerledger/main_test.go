package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/dealerledger/internal/app"
	_ "github.com/odyssey-erp/dealerledger/testing"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}
