// Package linux implements drivers on top of Linux user space interfaces:
// GPIO lines through the GPIO character device and USART through a tty.
package linux
