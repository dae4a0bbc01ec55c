//go:build test

package main

import (
	"bytes"

	"github.com/srg/vitalink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite runs commands against a fresh command tree with captured
// output. All cmd/vitalink suites embed it.
type CommandTestSuite struct {
	suite.Suite
	Helper *testutils.TestHelper
}

func (s *CommandTestSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
}

// ExecuteCommand runs the CLI with args and returns stdout, stderr and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}
