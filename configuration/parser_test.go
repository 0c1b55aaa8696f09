package configuration

import (
	"os"
	"reflect"
	"testing"

	"gopkg.in/check.v1"
)

func Test(t *testing.T) { check.TestingT(t) }

type localConfiguration struct {
	Version Version           `yaml:"version"`
	Log     *Log              `yaml:"log"`
	Options map[string]string `yaml:"options,omitempty"`
}

type Log struct {
	Formatter string `yaml:"formatter,omitempty"`
}

const testConfig = `version: "0.1"
log:
  formatter: "text"
options:
  color: "red"`

type ParserSuite struct{}

var _ = check.Suite(new(ParserSuite))

func (suite *ParserSuite) testParser() *Parser {
	return NewParser("testenv", []VersionedParseInfo{
		{
			Version: "0.1",
			ParseAs: reflect.TypeOf(localConfiguration{}),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				return c, nil
			},
		},
	})
}

func (suite *ParserSuite) TestParsePlain(c *check.C) {
	config := localConfiguration{}
	err := suite.testParser().Parse([]byte(testConfig), &config)
	c.Assert(err, check.IsNil)
	c.Assert(config, check.DeepEquals, localConfiguration{
		Version: "0.1",
		Log:     &Log{Formatter: "text"},
		Options: map[string]string{"color": "red"},
	})
}

func (suite *ParserSuite) TestParseOverwritesInitializedPointer(c *check.C) {
	config := localConfiguration{}

	os.Setenv("TESTENV_LOG_FORMATTER", "json")
	defer os.Unsetenv("TESTENV_LOG_FORMATTER")

	err := suite.testParser().Parse([]byte(testConfig), &config)
	c.Assert(err, check.IsNil)
	c.Assert(config.Log, check.DeepEquals, &Log{Formatter: "json"})
}

func (suite *ParserSuite) TestParseOverwritesMapEntries(c *check.C) {
	config := localConfiguration{}

	os.Setenv("TESTENV_OPTIONS_COLOR", "blue")
	defer os.Unsetenv("TESTENV_OPTIONS_COLOR")
	os.Setenv("TESTENV_OPTIONS_SHAPE", "round")
	defer os.Unsetenv("TESTENV_OPTIONS_SHAPE")

	err := suite.testParser().Parse([]byte(testConfig), &config)
	c.Assert(err, check.IsNil)
	c.Assert(config.Options, check.DeepEquals, map[string]string{
		"color": "blue",
		"shape": "round",
	})
}

func (suite *ParserSuite) TestParseUnsupportedVersion(c *check.C) {
	config := localConfiguration{}
	err := suite.testParser().Parse([]byte(`version: "9.9"`), &config)
	c.Assert(err, check.NotNil)
}
