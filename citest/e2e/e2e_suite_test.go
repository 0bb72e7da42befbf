package e2e_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/streamd/citest/testutil"
)

var (
	testServer *testutil.TestServer
	client     *testutil.TestClient
	ctx        context.Context
)

func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "E2E Suite")
}

var _ = BeforeSuite(func() {
	var err error
	testServer, err = testutil.StartTestServer()
	Expect(err).NotTo(HaveOccurred(), "Failed to start test server")

	client = testServer.Client()
	ctx = context.Background()
})

var _ = AfterSuite(func() {
	if testServer != nil {
		Expect(testServer.Stop()).To(Succeed())
	}
})
