/*
The sync package pushes local file changes to the board.

The board's filesystem is only reachable through the same serial port that
the terminal uses, and the transfer tool opens that port itself. So every
change is handled as one exclusive cycle through the channel arbiter:

1) Close the terminal's serial connection and wait for the device to settle.
2) Run the transfer tool to copy or remove the file.
3) Reopen the serial connection and wait for it to settle again.

The terminal can't touch the port during the cycle, and the port is reopened
even if the transfer fails. Failures are logged rather than returned so that
one bad file doesn't stop the session.

Directories aren't synced. Files in new directories are reported by the
watcher individually.
*/
package sync
