//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// 需要格式检查的源码目录
var sourceDirs = []string{"./cmd", "./pkg"}

// Default 默认任务：显示帮助信息
func Default() {
	fmt.Println("MeStore searchcache 构建系统")
	fmt.Println("==========================")
	fmt.Println("可用任务:")
	fmt.Println("  mage build       - 构建 searchcached")
	fmt.Println("  mage test        - 运行所有测试")
	fmt.Println("  mage testRace    - 开启竞态检测运行测试")
	fmt.Println("  mage bench       - 运行缓存基准测试")
	fmt.Println("  mage docker:env  - 启动基础环境 (Redis + InfluxDB)")
	fmt.Println("  mage docker:down - 停止基础环境")
	fmt.Println("  mage clean       - 清理构建产物")
	fmt.Println("  mage lint        - 运行代码检查")
	fmt.Println("  mage coverage    - 生成测试覆盖率报告")
}

// Build 构建 searchcached
func Build() error {
	mg.Deps(Clean)

	fmt.Println("🚀 开始构建 searchcached...")

	output := filepath.Join("./dist", "searchcached")
	if runtime.GOOS == "windows" {
		output += ".exe"
	}

	cmd := exec.Command("go", "build", "-o", output, "./cmd/searchcached")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("构建 searchcached 失败: %v\n输出: %s", err, string(out))
	}

	if info, err := os.Stat(output); err == nil {
		fmt.Printf("   ✅ searchcached: %d MB\n", info.Size()/1024/1024)
	}
	return nil
}

// Test 运行所有测试
func Test() error {
	fmt.Println("🧪 运行测试...")
	return sh.RunV("go", "test", "./pkg/...", "./cmd/...", "-timeout=5m")
}

// TestRace 开启竞态检测运行测试
func TestRace() error {
	fmt.Println("🧪 运行竞态检测...")
	return sh.RunV("go", "test", "-race", "./pkg/...", "-timeout=10m")
}

// Bench 运行缓存基准测试
func Bench() error {
	fmt.Println("⚡ 运行基准测试...")

	if err := os.MkdirAll("./reports", 0755); err != nil {
		return fmt.Errorf("创建报告目录失败: %v", err)
	}

	out, err := sh.Output("go", "test", "./pkg/searchcache", "./pkg/compress", "-bench=.", "-benchmem", "-run=^$", "-timeout=15m")
	if err != nil {
		return fmt.Errorf("基准测试失败: %v", err)
	}
	fmt.Println(out)

	if err := os.WriteFile("./reports/benchmark.txt", []byte(out), 0644); err != nil {
		return fmt.Errorf("保存基准测试报告失败: %v", err)
	}
	fmt.Println("✅ 基准测试完成! 报告保存到 ./reports/benchmark.txt")
	return nil
}

type Docker mg.Namespace

// Env 启动基础环境服务 (redis, influxdb)
func (Docker) Env() error {
	fmt.Println("🚀 启动基础环境服务 (redis, influxdb)...")
	return sh.RunV("docker", "compose", "-p", "mestore-dev", "up", "-d", "redis", "influxdb")
}

// Down 停止基础环境服务
func (Docker) Down() error {
	fmt.Println("🛑 停止开发环境服务...")
	return sh.RunV("docker", "compose", "-p", "mestore-dev", "down")
}

// Clean 清理构建产物
func Clean() error {
	fmt.Println("🧹 清理构建产物...")

	if err := os.MkdirAll("./dist", 0755); err != nil {
		return fmt.Errorf("创建 dist 目录失败: %v", err)
	}

	files, err := filepath.Glob("./dist/*")
	if err != nil {
		return fmt.Errorf("查找文件失败: %v", err)
	}
	for _, file := range files {
		if err := os.Remove(file); err != nil {
			fmt.Printf("警告: 无法删除文件 %s: %v\n", file, err)
		}
	}

	for _, report := range []string{"./coverage.out", "./coverage.html"} {
		if err := os.Remove(report); err != nil && !os.IsNotExist(err) {
			fmt.Printf("警告: 清理 %s 失败: %v\n", report, err)
		}
	}

	fmt.Println("✅ 清理完成!")
	return nil
}

// Lint 运行 gofmt 与 go vet
func Lint() error {
	fmt.Println("🔍 运行代码检查...")

	args := append([]string{"-l"}, sourceDirs...)
	out, err := sh.Output("gofmt", args...)
	if err != nil {
		return fmt.Errorf("gofmt 检查失败: %v", err)
	}
	if strings.TrimSpace(out) != "" {
		return fmt.Errorf("以下文件需要 gofmt:\n%s", out)
	}

	if err := sh.RunV("go", "vet", "./pkg/...", "./cmd/..."); err != nil {
		return fmt.Errorf("go vet 失败: %v", err)
	}

	fmt.Println("✅ 代码检查通过!")
	return nil
}

// Coverage 生成测试覆盖率报告
func Coverage() error {
	fmt.Println("📈 生成测试覆盖率报告...")

	if err := sh.RunV("go", "test", "./pkg/...", "-coverprofile=coverage.out", "-covermode=atomic"); err != nil {
		return fmt.Errorf("生成覆盖率失败: %v", err)
	}
	if err := sh.Run("go", "tool", "cover", "-html=coverage.out", "-o", "coverage.html"); err != nil {
		return fmt.Errorf("生成 HTML 报告失败: %v", err)
	}
	if err := sh.RunV("go", "tool", "cover", "-func=coverage.out"); err != nil {
		return fmt.Errorf("输出覆盖率汇总失败: %v", err)
	}

	fmt.Println("✅ 覆盖率报告已生成: coverage.html")
	return nil
}
