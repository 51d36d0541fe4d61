package collector

import (
	"fmt"
	"sync"

	"github.com/docker/docker/client"
)

var (
	dockerCli *client.Client
	initErr   error
	once      sync.Once
)

// engineClient 懒加载 Docker Client 单例。
// FromEnv 自动读取 DOCKER_HOST 等环境变量，API 版本自动协商。
func engineClient() (*client.Client, error) {
	once.Do(func() {
		dockerCli, initErr = client.NewClientWithOpts(
			client.FromEnv,
			client.WithAPIVersionNegotiation(),
		)
	})
	if initErr != nil {
		return nil, fmt.Errorf("create docker client: %w", initErr)
	}
	return dockerCli, nil
}

// CloseClient 关闭 Docker Client 连接，程序退出时调用。
func CloseClient() error {
	if dockerCli != nil {
		return dockerCli.Close()
	}
	return nil
}
