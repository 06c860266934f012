package configutil

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/validator.v2"
)

const (
	goodConfig = `
listen_address: localhost:4385
buffer_space: 1024
X:
  Y:
    V: val1
    Z:
      K1: v1
servers:
    - somewhere-sjc1:8090
    - somewhere-else-sjc1:8010
`

	invalidConfig = `
listen_address:
buffer_space: 1
servers:
`
	goodExtendsConfig = `
extends: %s
buffer_space: 512
X:
  Y:
    Z:
      K2: v2
servers:
    - somewhere-sjc2:8090
    - somewhere-else-sjc2:8010
`
	goodYetAnotherExtendsConfig = `
extends: %s
buffer_space: 256
servers:
    - somewhere-sjc3:8090
    - somewhere-else-sjc3:8010
`
)

type configuration struct {
	ListenAddress string   `yaml:"listen_address" validate:"nonzero"`
	BufferSpace   int      `yaml:"buffer_space" validate:"min=255"`
	Servers       []string `validate:"nonzero"`
	X             Xconfig  `yaml:"X"`
	Nodes         map[string]string
}

type Xconfig struct {
	Y Yconfig `yaml:"Y"`
}

type Yconfig struct {
	V string  `yaml:"V"`
	Z Zconfig `yaml:"Z"`
}

type Zconfig struct {
	K1 string `yaml:"K1"`
	K2 string `yaml:"K2"`
}

func writeFile(t *testing.T, contents string) string {
	f, err := ioutil.TempFile("", "configtest")
	require.NoError(t, err)

	defer f.Close()

	_, err = f.Write([]byte(contents))
	require.NoError(t, err)

	return f.Name()
}

func TestLoad(t *testing.T) {
	fname := writeFile(t, goodConfig)
	defer os.Remove(fname)

	var cfg configuration
	err := Load(fname, &cfg)
	require.NoError(t, err)
	assert.Equal(t, "localhost:4385", cfg.ListenAddress)
	assert.Equal(t, 1024, cfg.BufferSpace)
	assert.Equal(t, []string{"somewhere-sjc1:8090", "somewhere-else-sjc1:8010"}, cfg.Servers)
}

func TestMissingFile(t *testing.T) {
	var cfg configuration
	err := Load("./no-config.yaml", &cfg)
	require.Error(t, err)
}

func TestInvalidYAML(t *testing.T) {
	var cfg configuration
	err := Load("./config_test.go", &cfg)
	require.Error(t, err)
}

func TestInvalidConfig(t *testing.T) {
	fname := writeFile(t, invalidConfig)
	defer os.Remove(fname)

	var cfg configuration
	err := Load(fname, &cfg)
	require.Error(t, err)

	verr, ok := err.(ValidationError)
	require.True(t, ok)

	errors := map[string]validator.ErrorArray{
		"BufferSpace":   {validator.ErrMin},
		"ListenAddress": {validator.ErrZeroValue},
		"Servers":       {validator.ErrZeroValue},
	}

	for field, errs := range errors {
		fieldErr := verr.ErrForField(field)
		require.NotNil(t, fieldErr, "Could not find field level error for %s", field)
		assert.Equal(t, errs, fieldErr)
	}
}

func TestValidationRunsOnMergedConfig(t *testing.T) {
	// The base alone fails validation. The extending config fills in the
	// missing fields, so loading the pair succeeds.
	base := writeFile(t, invalidConfig)
	defer os.Remove(base)

	overlay := writeFile(t, fmt.Sprintf(`
extends: %s
listen_address: localhost:8080
buffer_space: 256
servers:
    - somewhere-sjc1:8090
`, filepath.Base(base)))
	defer os.Remove(overlay)

	var cfg configuration
	err := Load(overlay, &cfg)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", cfg.ListenAddress)
	assert.Equal(t, 256, cfg.BufferSpace)
}

func TestExtendsConfig(t *testing.T) {
	fname := writeFile(t, goodConfig)
	defer os.Remove(fname)

	extends := fmt.Sprintf(goodExtendsConfig, filepath.Base(fname))
	extendsfn := writeFile(t, extends)
	defer os.Remove(extendsfn)

	var cfg configuration
	err := Load(extendsfn, &cfg)
	require.NoError(t, err)

	assert.Equal(t, "localhost:4385", cfg.ListenAddress)
	assert.Equal(t, 512, cfg.BufferSpace)
	assert.Equal(t, []string{"somewhere-sjc2:8090", "somewhere-else-sjc2:8010"}, cfg.Servers)
	assert.Equal(t, "v1", cfg.X.Y.Z.K1)
	assert.Equal(t, "v2", cfg.X.Y.Z.K2)

	assert.Equal(t, "val1", cfg.X.Y.V)
}

func TestExtendsConfigDeep(t *testing.T) {
	fname := writeFile(t, goodConfig)
	defer os.Remove(fname)

	extends := fmt.Sprintf(goodExtendsConfig, filepath.Base(fname))
	extendsfn := writeFile(t, extends)
	defer os.Remove(extendsfn)

	extends2 := fmt.Sprintf(goodYetAnotherExtendsConfig, filepath.Base(extendsfn))
	extendsfn2 := writeFile(t, extends2)
	defer os.Remove(extendsfn2)

	var cfg configuration
	err := Load(extendsfn2, &cfg)
	require.NoError(t, err)

	assert.Equal(t, "localhost:4385", cfg.ListenAddress)
	assert.Equal(t, 256, cfg.BufferSpace)
	assert.Equal(t, []string{"somewhere-sjc3:8090", "somewhere-else-sjc3:8010"}, cfg.Servers)
}

func TestExtendsConfigCircularRef(t *testing.T) {
	f1, err := ioutil.TempFile("", "configtest")
	require.NoError(t, err)

	f2, err := ioutil.TempFile("", "configtest")
	require.NoError(t, err)

	f3, err := ioutil.TempFile("", "configtest")
	require.NoError(t, err)

	defer f1.Close()
	defer f2.Close()
	defer f3.Close()

	_, err = f1.Write([]byte(goodConfig))
	require.NoError(t, err)
	defer os.Remove(f1.Name())

	extends := fmt.Sprintf(goodExtendsConfig, filepath.Base(f3.Name()))
	_, err = f2.Write([]byte(extends))
	require.NoError(t, err)

	defer os.Remove(f2.Name())

	extends2 := fmt.Sprintf(goodYetAnotherExtendsConfig, filepath.Base(f2.Name()))
	_, err = f3.Write([]byte(extends2))
	require.NoError(t, err)

	defer os.Remove(f3.Name())

	var cfg configuration
	err = Load(f3.Name(), &cfg)
	require.Error(t, err)
	require.Equal(t, ErrCycleRef, err)
}

func TestMapsMergeAcrossExtends(t *testing.T) {
	base := writeFile(t, goodConfig+`
nodes:
  base: nodeA
`)
	defer os.Remove(base)

	overlay := writeFile(t, fmt.Sprintf(`
extends: %s
nodes:
  overlay: nodeB
`, filepath.Base(base)))
	defer os.Remove(overlay)

	var cfg configuration
	err := Load(overlay, &cfg)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"base": "nodeA", "overlay": "nodeB"}, cfg.Nodes)
}
