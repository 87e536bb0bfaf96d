package naming

import (
	"fmt"

	"github.com/katiya-cw/openesb-standalone/internal/binder"
	"github.com/katiya-cw/openesb-standalone/internal/logger"
)

// DataSourcePoolProperties defines one pooled data source.
type DataSourcePoolProperties struct {
	Name                 string            `yaml:"name"`
	ClassName            string            `yaml:"classname"`
	DataSourceProperties map[string]string `yaml:"datasource-properties"`
	PoolProperties       map[string]string `yaml:"pool-properties"`
}

// DataSourcePoolFactory turns definitions into pooled data sources.
type DataSourcePoolFactory struct {
	binder *binder.Binder
	logger logger.Logger
}

func NewDataSourcePoolFactory(log logger.Logger) *DataSourcePoolFactory {
	return &DataSourcePoolFactory{
		binder: binder.New(log),
		logger: log,
	}
}

// GetDataSource instantiates the native class, binds both property sets and
// links the result into a pool. Only an unknown class or a failing
// constructor is an error; property problems are logged and skipped.
func (f *DataSourcePoolFactory) GetDataSource(props DataSourcePoolProperties) (*PooledDataSource, error) {
	f.logger.Debug("instantiating data source", logger.String("class", props.ClassName))

	ctor, ok := lookupClass(props.ClassName)
	if !ok {
		f.logger.Error("data source class not found", logger.String("class", props.ClassName))
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, props.ClassName)
	}
	native, err := instantiate(props.ClassName, ctor)
	if err != nil {
		f.logger.Error("cannot instantiate data source", logger.String("class", props.ClassName), logger.Error(err))
		return nil, err
	}

	if _, err := f.binder.Bind(native, props.DataSourceProperties); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInstantiation, props.ClassName, err)
	}
	f.logger.Debug("native data source configured", logger.String("class", props.ClassName))

	pool := DefaultPoolProperties()
	if _, err := f.binder.Bind(&pool, props.PoolProperties); err != nil {
		return nil, err
	}
	if pool.Name == "" {
		pool.Name = props.Name
	}
	return newPooledDataSource(native, pool), nil
}

// GetXADataSource returns the same pooled source; distributed transactions
// are coordinated by the transaction service, not the driver.
func (f *DataSourcePoolFactory) GetXADataSource(props DataSourcePoolProperties) (*PooledDataSource, error) {
	return f.GetDataSource(props)
}
