package utils

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

// SetupCloseHandler 第一次信号执行回调，第二次信号强制退出
func SetupCloseHandler(callback func()) {
	c := make(chan os.Signal, 2)
	var once sync.Once

	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		go once.Do(callback)
		<-c
		logrus.Warnf("[Signal] second signal received, exiting immediately")
		os.Exit(1)
	}()
}
